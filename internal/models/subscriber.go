package models

import (
	"time"
)

// Subscriber is one row of the notification registry, keyed by (fid, app_fid).
// Token and NotificationURL are only set while the subscriber is enabled.
type Subscriber struct {
	FID                 int64      `json:"fid" db:"fid"`
	AppFID              int64      `json:"app_fid" db:"app_fid"`
	Token               *string    `json:"token,omitempty" db:"token"`
	NotificationURL     *string    `json:"notification_url,omitempty" db:"notification_url"`
	Enabled             bool       `json:"enabled" db:"enabled"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	WelcomeSentForToken *string    `json:"welcome_sent_for_token,omitempty" db:"welcome_sent_for_token"`
	WelcomeSentAt       *time.Time `json:"welcome_sent_at,omitempty" db:"welcome_sent_at"`
}
