package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nftseason/notifyd/internal/envelope"
	apierrors "github.com/nftseason/notifyd/internal/errors"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/nftseason/notifyd/internal/notify"
	"github.com/nftseason/notifyd/internal/store"
)

// handleWebhook ingests one Farcaster lifecycle event. The raw envelope is
// logged to the event table before any interpretation, so malformed or
// unexpected deliveries are never lost. The endpoint always answers 200 for
// events it understood, even when the event changes nothing, because the
// sender retries non-2xx responses.
func (s *APIServer) handleWebhook(c *gin.Context) {
	receivedAt := time.Now().UTC()
	requestID := c.GetString("request_id")
	ctx := c.Request.Context()

	var raw store.RawEnvelope
	if err := c.ShouldBindJSON(&raw); err != nil {
		respondError(c, apierrors.NewBadRequestError("invalid JSON body"))
		return
	}
	if raw.Header == "" || raw.Payload == "" {
		respondError(c, apierrors.NewBadRequestError("missing header/payload"))
		return
	}

	dec := envelope.DecodeEnvelope(raw.Header, raw.Payload)

	if err := s.store.EnsureSchema(ctx); err != nil {
		s.webhookFailed(c, requestID, "ensure schema", err)
		return
	}
	if err := s.store.RecordEvent(ctx, raw, dec.RawHeader, dec.RawPayload); err != nil {
		s.webhookFailed(c, requestID, "record event", err)
		return
	}

	event := ""
	if dec.Payload != nil {
		event = dec.Payload.Event
	}

	if dec.Header == nil || dec.Header.FID <= 0 {
		logging.LogWebhookEvent(requestID, event, 0, "no_fid")
		monitoring.RecordWebhookEvent(event, "no_fid")
		c.JSON(http.StatusOK, gin.H{"ok": true, "event": event, "note": "no_fid"})
		return
	}

	// Single-app deployment: the signing fid is the app fid.
	fid := dec.Header.FID
	appFID := fid

	switch event {
	case envelope.EventNotificationsEnabled:
		details := dec.Payload.NotificationDetails
		if details == nil || details.Token == "" || details.URL == "" {
			logging.LogWebhookEvent(requestID, event, fid, "missing_token_or_url")
			monitoring.RecordWebhookEvent(event, "missing_token_or_url")
			c.JSON(http.StatusOK, gin.H{
				"ok": true, "event": event, "fid": fid, "appFid": appFID,
				"enabled": false, "note": "missing_token_or_url",
			})
			return
		}

		enabled, err := s.store.UpsertEnabled(ctx, fid, appFID, details.Token, details.URL, receivedAt)
		if err != nil {
			s.webhookFailed(c, requestID, "upsert enabled", err)
			return
		}

		if enabled {
			s.maybeSendWelcome(c, fid, appFID, details.Token)
		}

		logging.LogWebhookEvent(requestID, event, fid, "handled")
		monitoring.RecordWebhookEvent(event, "handled")
		c.JSON(http.StatusOK, gin.H{
			"ok": true, "event": event, "fid": fid, "appFid": appFID, "enabled": enabled,
		})

	case envelope.EventNotificationsDisabled:
		enabled, err := s.store.UpsertDisabled(ctx, fid, appFID, receivedAt)
		if err != nil {
			s.webhookFailed(c, requestID, "upsert disabled", err)
			return
		}

		logging.LogWebhookEvent(requestID, event, fid, "handled")
		monitoring.RecordWebhookEvent(event, "handled")
		c.JSON(http.StatusOK, gin.H{
			"ok": true, "event": event, "fid": fid, "appFid": appFID, "enabled": enabled,
		})

	default:
		logging.LogWebhookEvent(requestID, event, fid, "ignored")
		monitoring.RecordWebhookEvent(event, "ignored")
		c.JSON(http.StatusOK, gin.H{
			"ok": true, "event": event, "fid": fid, "appFid": appFID, "note": "ignored_event",
		})
	}
}

func (s *APIServer) webhookFailed(c *gin.Context, requestID, op string, err error) {
	logger := logging.NewLogger("webhook")
	logger.Error().Err(err).
		Str("request_id", requestID).
		Str("op", op).
		Msg("Webhook storage operation failed")
	respondError(c, apierrors.NewWebhookFailedError())
}

// maybeSendWelcome delivers the one-time welcome notification after an
// enable. Failures are logged and swallowed: the subscription itself is
// already stored, and the webhook must still succeed. The welcome goes to the
// stored credential, never the delivered one: a stale redelivery can lose the
// ordering guard yet still see enabled=true, and welcoming its token would
// reset dedup for the live one.
func (s *APIServer) maybeSendWelcome(c *gin.Context, fid, appFID int64, token string) {
	ctx := c.Request.Context()

	logger := logging.NewLogger("webhook")

	sub, err := s.store.GetSubscriber(ctx, fid, appFID)
	if err != nil {
		logger.Warn().Err(err).
			Int64("fid", fid).
			Msg("Failed to load subscriber for welcome check")
		return
	}
	if !sub.Enabled || sub.Token == nil || sub.NotificationURL == nil || *sub.Token != token {
		return
	}
	if !notify.ShouldSendWelcome(sub, token) {
		return
	}

	msg := notify.Message{
		NotificationID: notify.WelcomeMessageID(fid, token),
		Title:          s.config.Notify.WelcomeTitle,
		Body:           s.config.Notify.WelcomeBody,
		TargetURL:      s.config.App.Origin,
	}

	res := s.dispatcher.Send(ctx, *sub.NotificationURL, []string{token}, msg)
	if !res.OK || res.RateLimited(token) {
		// Rate limited or failed sends stay unmarked so a later enable retries.
		logger.Warn().
			Int64("fid", fid).
			Int("status", res.Status).
			Str("error", res.Error).
			Msg("Welcome notification not confirmed")
		return
	}

	if err := s.store.MarkWelcomeSent(ctx, fid, appFID, token, time.Now().UTC()); err != nil {
		logger.Warn().Err(err).
			Int64("fid", fid).
			Msg("Failed to mark welcome sent")
		return
	}
	monitoring.RecordWelcomeSent()
}
