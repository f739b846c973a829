package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apierrors "github.com/nftseason/notifyd/internal/errors"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/nftseason/notifyd/internal/notify"
)

// broadcastLockKey guards against two concurrent broadcasts double-sending.
const (
	broadcastLockKey = "notifyd:broadcast:lock"
	broadcastLockTTL = 2 * time.Minute
)

type broadcastRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	TargetURL      string `json:"targetUrl"`
	NotificationID string `json:"notificationId"`
	DryRun         bool   `json:"dryRun"`
}

// handleBroadcast fans a notification out to every enabled subscriber.
// Validation and the origin allow-list run before any storage or network
// I/O, so a rejected request leaves no trace.
func (s *APIServer) handleBroadcast(c *gin.Context) {
	ctx := c.Request.Context()
	log := logging.NewLogger("broadcast")

	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewBadRequestError("invalid JSON body"))
		return
	}

	if req.Title == "" || req.Body == "" || req.TargetURL == "" {
		respondError(c, apierrors.NewMissingFieldsError())
		return
	}
	if !strings.HasPrefix(req.TargetURL, s.config.App.Origin) {
		respondError(c, apierrors.NewTargetURLError(s.config.App.Origin))
		return
	}

	notificationID := req.NotificationID
	if notificationID == "" {
		now := time.Now().UTC()
		notificationID = fmt.Sprintf("nft-season-%s-%d", now.Format("2006-01-02"), now.UnixMilli())
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to ensure schema")
		respondError(c, apierrors.ErrInternalError)
		return
	}

	// The lock is advisory. Without Redis, or when Redis is down, broadcasts
	// proceed unguarded rather than failing closed.
	if s.rdb != nil {
		acquired, err := s.rdb.SetNX(ctx, broadcastLockKey, "1", broadcastLockTTL).Result()
		if err != nil {
			log.Warn().Err(err).Msg("Broadcast lock unavailable, proceeding without it")
		} else if !acquired {
			respondError(c, apierrors.ErrBroadcastInProgressError)
			return
		} else {
			defer s.rdb.Del(ctx, broadcastLockKey)
		}
	}

	subs, err := s.store.ListEnabledSubscribers(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list enabled subscribers")
		respondError(c, apierrors.ErrInternalError)
		return
	}

	if req.DryRun {
		monitoring.RecordBroadcast("dry_run")
		c.JSON(http.StatusOK, gin.H{
			"ok":             true,
			"dryRun":         true,
			"recipients":     len(subs),
			"notificationId": notificationID,
		})
		return
	}

	targets := make([]notify.Target, 0, len(subs))
	for _, sub := range subs {
		if sub.Token == nil || sub.NotificationURL == nil {
			continue
		}
		targets = append(targets, notify.Target{
			NotificationURL: *sub.NotificationURL,
			Token:           *sub.Token,
		})
	}

	msg := notify.Message{
		NotificationID: notificationID,
		Title:          req.Title,
		Body:           req.Body,
		TargetURL:      req.TargetURL,
	}

	monitoring.RecordBroadcast("live")
	report, err := s.dispatcher.Broadcast(ctx, targets, msg, s.store)
	if err != nil {
		// Dispatch itself never errors; this is the prune failing. The sends
		// already happened, so report them along with the failure.
		log.Error().Err(err).Msg("Broadcast completed but pruning failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":             false,
			"error":          apierrors.ErrInternal,
			"message":        "broadcast sent but invalid token pruning failed",
			"recipients":     report.Recipients,
			"notificationId": notificationID,
			"results":        report.Results,
		})
		return
	}

	log.Info().
		Int("recipients", report.Recipients).
		Int("batches", len(report.Results)).
		Int64("pruned", report.InvalidTokensPruned).
		Str("notification_id", notificationID).
		Msg("Broadcast complete")

	c.JSON(http.StatusOK, gin.H{
		"ok":                  true,
		"dryRun":              false,
		"recipients":          report.Recipients,
		"notificationId":      notificationID,
		"invalidTokensPruned": report.InvalidTokensPruned,
		"results":             report.Results,
	})
}
