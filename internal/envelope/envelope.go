// Package envelope decodes signed Farcaster webhook envelopes. Decoding is
// pure and total: malformed input yields nil fields, never an error or panic.
// The sender cannot fix a bad payload, so rejecting it would only cause
// endless redelivery.
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// Known webhook event values. Anything else is acknowledged and ignored.
const (
	EventNotificationsEnabled  = "notifications_enabled"
	EventNotificationsDisabled = "notifications_disabled"
)

// Header is the decoded envelope header. FID identifies the user; a valid
// header always carries a positive fid.
type Header struct {
	FID  int64  `json:"fid"`
	Type string `json:"type"`
	Key  string `json:"key"`
}

// NotificationDetails carries the push credential issued by the client.
type NotificationDetails struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Payload is the decoded envelope payload, discriminated by Event.
// NotificationDetails is only present on notifications_enabled events.
type Payload struct {
	Event               string               `json:"event"`
	NotificationDetails *NotificationDetails `json:"notificationDetails,omitempty"`
}

// Decoded is the result of decoding one envelope. The Raw fields hold the
// decoded JSON documents whenever they parsed as JSON at all, even when the
// typed fields did not fit our shapes; they are what gets written to the
// event log.
type Decoded struct {
	Header     *Header
	Payload    *Payload
	RawHeader  json.RawMessage
	RawPayload json.RawMessage
}

// DecodeEnvelope decodes the base64url header and payload of a webhook
// envelope. Each field fails independently: bad base64 or bad JSON in one
// does not affect the other. No signature verification is performed here.
func DecodeEnvelope(headerB64, payloadB64 string) Decoded {
	var d Decoded

	if raw, ok := decodeSegment(headerB64); ok {
		d.RawHeader = raw
		var h Header
		if err := json.Unmarshal(raw, &h); err == nil {
			d.Header = &h
		}
	}

	if raw, ok := decodeSegment(payloadB64); ok {
		d.RawPayload = raw
		var p Payload
		if err := json.Unmarshal(raw, &p); err == nil {
			d.Payload = &p
		}
	}

	return d
}

// decodeSegment base64url-decodes one segment and checks it is valid JSON.
func decodeSegment(s string) (json.RawMessage, bool) {
	b, err := decodeBase64URL(s)
	if err != nil {
		return nil, false
	}
	if !json.Valid(b) {
		return nil, false
	}
	return json.RawMessage(b), true
}

// decodeBase64URL accepts base64url with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	b64 := strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if pad := len(b64) % 4; pad != 0 {
		b64 += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(b64)
}

// EncodeSegment is the inverse of decodeSegment, used by tooling and tests
// to build envelopes.
func EncodeSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
