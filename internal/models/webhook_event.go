package models

import (
	"encoding/json"
	"time"
)

// WebhookEvent is one append-only row of the inbound webhook log. Body holds
// the envelope verbatim for forensic replay; the decoded columns are
// best-effort and may be null when decoding failed.
type WebhookEvent struct {
	ID             int64           `json:"id" db:"id"`
	ReceivedAt     time.Time       `json:"received_at" db:"received_at"`
	Body           json.RawMessage `json:"body" db:"body"`
	DecodedHeader  json.RawMessage `json:"decoded_header,omitempty" db:"decoded_header"`
	DecodedPayload json.RawMessage `json:"decoded_payload,omitempty" db:"decoded_payload"`
}
