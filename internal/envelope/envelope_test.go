package envelope

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustEncode(t *testing.T, v any) string {
	t.Helper()
	s, err := EncodeSegment(v)
	require.NoError(t, err)
	return s
}

func TestDecodeEnvelope_EnabledEvent(t *testing.T) {
	header := mustEncode(t, Header{FID: 372916, Type: "app_key", Key: "0xabc"})
	payload := mustEncode(t, Payload{
		Event: EventNotificationsEnabled,
		NotificationDetails: &NotificationDetails{
			URL:   "https://api.farcaster.xyz/v1/frame-notifications",
			Token: "tok-12345",
		},
	})

	d := DecodeEnvelope(header, payload)

	require.NotNil(t, d.Header)
	assert.Equal(t, int64(372916), d.Header.FID)

	require.NotNil(t, d.Payload)
	assert.Equal(t, EventNotificationsEnabled, d.Payload.Event)
	require.NotNil(t, d.Payload.NotificationDetails)
	assert.Equal(t, "tok-12345", d.Payload.NotificationDetails.Token)
	assert.Equal(t, "https://api.farcaster.xyz/v1/frame-notifications", d.Payload.NotificationDetails.URL)

	assert.True(t, json.Valid(d.RawHeader))
	assert.True(t, json.Valid(d.RawPayload))
}

func TestDecodeEnvelope_DisabledEventHasNoDetails(t *testing.T) {
	header := mustEncode(t, Header{FID: 42})
	payload := mustEncode(t, Payload{Event: EventNotificationsDisabled})

	d := DecodeEnvelope(header, payload)

	require.NotNil(t, d.Payload)
	assert.Equal(t, EventNotificationsDisabled, d.Payload.Event)
	assert.Nil(t, d.Payload.NotificationDetails)
}

func TestDecodeEnvelope_FieldsFailIndependently(t *testing.T) {
	goodPayload := mustEncode(t, Payload{Event: EventNotificationsDisabled})

	d := DecodeEnvelope("!!!not-base64!!!", goodPayload)
	assert.Nil(t, d.Header)
	assert.Nil(t, d.RawHeader)
	require.NotNil(t, d.Payload)
	assert.Equal(t, EventNotificationsDisabled, d.Payload.Event)

	goodHeader := mustEncode(t, Header{FID: 7})
	d = DecodeEnvelope(goodHeader, "!!!not-base64!!!")
	require.NotNil(t, d.Header)
	assert.Equal(t, int64(7), d.Header.FID)
	assert.Nil(t, d.Payload)
}

func TestDecodeEnvelope_NonJSONBytes(t *testing.T) {
	// Valid base64 of bytes that are not JSON.
	notJSON := base64.RawURLEncoding.EncodeToString([]byte("hello world"))

	d := DecodeEnvelope(notJSON, notJSON)
	assert.Nil(t, d.Header)
	assert.Nil(t, d.Payload)
	assert.Nil(t, d.RawHeader)
	assert.Nil(t, d.RawPayload)
}

func TestDecodeEnvelope_RawKeptWhenShapeUnknown(t *testing.T) {
	// Valid JSON that does not fit Header: raw is kept for the event log.
	raw := base64.RawURLEncoding.EncodeToString([]byte(`[1,2,3]`))

	d := DecodeEnvelope(raw, raw)
	assert.Nil(t, d.Header)
	assert.JSONEq(t, `[1,2,3]`, string(d.RawHeader))
	assert.JSONEq(t, `[1,2,3]`, string(d.RawPayload))
}

func TestDecodeEnvelope_AcceptsPaddedBase64(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte(`{"fid":99}`))
	unpadded := base64.RawURLEncoding.EncodeToString([]byte(`{"fid":99}`))

	for _, enc := range []string{padded, unpadded} {
		d := DecodeEnvelope(enc, enc)
		require.NotNil(t, d.Header, "encoding %q", enc)
		assert.Equal(t, int64(99), d.Header.FID)
	}
}

// Decoding must be total: no input may cause a panic, and a round-tripped
// envelope must decode to what was encoded.
func TestDecodeEnvelope_Total(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		header := rapid.String().Draw(t, "header")
		payload := rapid.String().Draw(t, "payload")
		_ = DecodeEnvelope(header, payload)
	})
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		fid := rapid.Int64Range(1, 1<<40).Draw(t, "fid")
		token := rapid.StringMatching(`[a-zA-Z0-9_-]{1,64}`).Draw(t, "token")

		header := Header{FID: fid, Type: "app_key"}
		payload := Payload{
			Event:               EventNotificationsEnabled,
			NotificationDetails: &NotificationDetails{URL: "https://example.com/notify", Token: token},
		}

		h, err := EncodeSegment(header)
		if err != nil {
			t.Fatalf("encode header: %v", err)
		}
		p, err := EncodeSegment(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}

		d := DecodeEnvelope(h, p)
		if d.Header == nil || d.Header.FID != fid {
			t.Fatalf("header did not round-trip: %+v", d.Header)
		}
		if d.Payload == nil || d.Payload.NotificationDetails == nil ||
			d.Payload.NotificationDetails.Token != token {
			t.Fatalf("payload did not round-trip: %+v", d.Payload)
		}
	})
}
