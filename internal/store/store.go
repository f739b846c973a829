// Package store is the authoritative registry of subscriber notification
// state plus the append-only inbound webhook log. Concurrency correctness
// lives here: all writers go through single conditional statements so that
// out-of-order webhook deliveries converge on the freshest state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nftseason/notifyd/internal/models"
)

// ErrSubscriberNotFound is returned when no row exists for a (fid, app_fid) pair
var ErrSubscriberNotFound = errors.New("subscriber not found")

// Store handles subscriber registry and webhook event log operations
type Store struct {
	db *pgxpool.Pool

	mu          sync.Mutex
	schemaReady bool
}

// New creates a new store over the shared connection pool
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RawEnvelope is the inbound webhook body as received, stored verbatim.
type RawEnvelope struct {
	Header    string  `json:"header"`
	Payload   string  `json:"payload"`
	Signature *string `json:"signature"`
}

// EnsureSchema creates the two tables and their indexes if they do not
// exist. Safe to call from concurrent request handlers: the DDL itself is
// idempotent, and the ready flag only short-circuits after one success.
func (s *Store) EnsureSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schemaReady {
		return nil
	}

	stmts := []string{
		`create table if not exists miniapp_notification_webhook_events (
			id bigserial primary key,
			received_at timestamptz not null default now(),
			body jsonb not null,
			decoded_header jsonb,
			decoded_payload jsonb
		)`,
		`create index if not exists idx_mnwe_received_at
			on miniapp_notification_webhook_events (received_at desc)`,
		`create table if not exists miniapp_notification_subscribers (
			fid bigint not null,
			app_fid bigint not null,
			token text,
			notification_url text,
			enabled boolean not null default false,
			updated_at timestamptz not null default now(),
			welcome_sent_for_token text,
			welcome_sent_at timestamptz,
			primary key (fid, app_fid)
		)`,
		`create index if not exists idx_subscribers_enabled
			on miniapp_notification_subscribers (enabled)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	s.schemaReady = true
	return nil
}

// RecordEvent appends one row to the webhook event log. Called
// unconditionally for every inbound webhook, before any business logic.
func (s *Store) RecordEvent(ctx context.Context, raw RawEnvelope, decodedHeader, decodedPayload json.RawMessage) error {
	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal raw envelope: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		insert into miniapp_notification_webhook_events (body, decoded_header, decoded_payload)
		values ($1, $2, $3)
	`, body, []byte(decodedHeader), []byte(decodedPayload))
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// UpsertEnabled inserts or updates a subscriber as enabled with the given
// credential. The write only applies when the stored row is not newer than
// observedAt; a stale redelivery loses without a read-then-write race. The
// returned value is the enabled flag as stored after the call, which may
// reflect a fresher write that won.
func (s *Store) UpsertEnabled(ctx context.Context, fid, appFID int64, token, notificationURL string, observedAt time.Time) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `
		insert into miniapp_notification_subscribers (fid, app_fid, token, notification_url, enabled, updated_at)
		values ($1, $2, $3, $4, true, $5)
		on conflict (fid, app_fid) do update
			set token = excluded.token,
			    notification_url = excluded.notification_url,
			    enabled = true,
			    updated_at = excluded.updated_at
			where miniapp_notification_subscribers.updated_at <= excluded.updated_at
		returning enabled
	`, fid, appFID, token, notificationURL, observedAt).Scan(&enabled)

	if errors.Is(err, pgx.ErrNoRows) {
		// Guard rejected the write; report what is actually stored.
		return s.storedEnabled(ctx, fid, appFID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert enabled subscriber: %w", err)
	}
	return enabled, nil
}

// UpsertDisabled inserts or updates a subscriber as disabled, clearing the
// credential. Same ordering guard as UpsertEnabled.
func (s *Store) UpsertDisabled(ctx context.Context, fid, appFID int64, observedAt time.Time) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `
		insert into miniapp_notification_subscribers (fid, app_fid, token, notification_url, enabled, updated_at)
		values ($1, $2, null, null, false, $3)
		on conflict (fid, app_fid) do update
			set token = null,
			    notification_url = null,
			    enabled = false,
			    updated_at = excluded.updated_at
			where miniapp_notification_subscribers.updated_at <= excluded.updated_at
		returning enabled
	`, fid, appFID, observedAt).Scan(&enabled)

	if errors.Is(err, pgx.ErrNoRows) {
		return s.storedEnabled(ctx, fid, appFID)
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert disabled subscriber: %w", err)
	}
	return enabled, nil
}

func (s *Store) storedEnabled(ctx context.Context, fid, appFID int64) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `
		select enabled from miniapp_notification_subscribers
		where fid = $1 and app_fid = $2
	`, fid, appFID).Scan(&enabled)
	if err != nil {
		return false, fmt.Errorf("failed to read subscriber state: %w", err)
	}
	return enabled, nil
}

// GetSubscriber fetches one subscriber row
func (s *Store) GetSubscriber(ctx context.Context, fid, appFID int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.QueryRow(ctx, `
		select fid, app_fid, token, notification_url, enabled, updated_at,
		       welcome_sent_for_token, welcome_sent_at
		from miniapp_notification_subscribers
		where fid = $1 and app_fid = $2
	`, fid, appFID).Scan(
		&sub.FID, &sub.AppFID, &sub.Token, &sub.NotificationURL, &sub.Enabled,
		&sub.UpdatedAt, &sub.WelcomeSentForToken, &sub.WelcomeSentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("failed to get subscriber: %w", err)
	}
	return &sub, nil
}

// ListEnabledSubscribers returns all subscribers with enabled=true and a
// usable credential. appFID narrows to one app when non-nil. Order is
// unspecified.
func (s *Store) ListEnabledSubscribers(ctx context.Context, appFID *int64) ([]models.Subscriber, error) {
	query := `
		select fid, app_fid, token, notification_url, enabled, updated_at,
		       welcome_sent_for_token, welcome_sent_at
		from miniapp_notification_subscribers
		where enabled = true and token is not null and notification_url is not null`
	args := []any{}
	if appFID != nil {
		query += ` and app_fid = $1`
		args = append(args, *appFID)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(
			&sub.FID, &sub.AppFID, &sub.Token, &sub.NotificationURL, &sub.Enabled,
			&sub.UpdatedAt, &sub.WelcomeSentForToken, &sub.WelcomeSentAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// PruneInvalidTokens disables and clears every subscriber whose token the
// provider reported invalid. Returns the number of rows pruned.
func (s *Store) PruneInvalidTokens(ctx context.Context, tokens []string) (int64, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		update miniapp_notification_subscribers
		set enabled = false, token = null, notification_url = null, updated_at = now()
		where token = any($1::text[])
	`, tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to prune invalid tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkWelcomeSent records that a welcome notification went out for this
// token. Called only after a confirmed, non-rate-limited dispatch.
func (s *Store) MarkWelcomeSent(ctx context.Context, fid, appFID int64, token string, sentAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		update miniapp_notification_subscribers
		set welcome_sent_for_token = $3, welcome_sent_at = $4
		where fid = $1 and app_fid = $2
	`, fid, appFID, token, sentAt)
	if err != nil {
		return fmt.Errorf("failed to mark welcome sent: %w", err)
	}
	return nil
}

// CountSubscribers returns total and enabled subscriber counts
func (s *Store) CountSubscribers(ctx context.Context) (total, enabled int64, err error) {
	err = s.db.QueryRow(ctx, `
		select count(*), count(*) filter (where enabled)
		from miniapp_notification_subscribers
	`).Scan(&total, &enabled)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return total, enabled, nil
}

// ListSubscribersPage returns one page of subscribers for the manager view,
// newest state change first.
func (s *Store) ListSubscribersPage(ctx context.Context, page, perPage int, enabledOnly bool) ([]models.Subscriber, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	where := ""
	if enabledOnly {
		where = "where enabled = true"
	}

	var total int64
	if err := s.db.QueryRow(ctx,
		fmt.Sprintf("select count(*) from miniapp_notification_subscribers %s", where),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count subscribers: %w", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(`
		select fid, app_fid, token, notification_url, enabled, updated_at,
		       welcome_sent_for_token, welcome_sent_at
		from miniapp_notification_subscribers
		%s
		order by updated_at desc
		limit $1 offset $2
	`, where), perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(
			&sub.FID, &sub.AppFID, &sub.Token, &sub.NotificationURL, &sub.Enabled,
			&sub.UpdatedAt, &sub.WelcomeSentForToken, &sub.WelcomeSentAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

// ListEventsPage returns one page of the webhook event log, newest first.
func (s *Store) ListEventsPage(ctx context.Context, page, perPage int) ([]models.WebhookEvent, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	offset := (page - 1) * perPage

	var total int64
	if err := s.db.QueryRow(ctx,
		"select count(*) from miniapp_notification_webhook_events",
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook events: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		select id, received_at, body, decoded_header, decoded_payload
		from miniapp_notification_webhook_events
		order by received_at desc
		limit $1 offset $2
	`, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query webhook events: %w", err)
	}
	defer rows.Close()

	var events []models.WebhookEvent
	for rows.Next() {
		var ev models.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.ReceivedAt, &ev.Body, &ev.DecodedHeader, &ev.DecodedPayload); err != nil {
			return nil, 0, fmt.Errorf("failed to scan webhook event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
