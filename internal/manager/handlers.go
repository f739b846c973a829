package manager

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/models"
	"github.com/nftseason/notifyd/internal/notify"
)

// subscriberView is a subscriber row with the token masked for display.
type subscriberView struct {
	FID             int64      `json:"fid"`
	AppFID          int64      `json:"appFid"`
	Token           string     `json:"token"`
	NotificationURL *string    `json:"notificationUrl"`
	Enabled         bool       `json:"enabled"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	WelcomeSentAt   *time.Time `json:"welcomeSentAt,omitempty"`
}

func toView(sub models.Subscriber) subscriberView {
	token := ""
	if sub.Token != nil {
		token = logging.MaskToken(*sub.Token)
	}
	return subscriberView{
		FID:             sub.FID,
		AppFID:          sub.AppFID,
		Token:           token,
		NotificationURL: sub.NotificationURL,
		Enabled:         sub.Enabled,
		UpdatedAt:       sub.UpdatedAt,
		WelcomeSentAt:   sub.WelcomeSentAt,
	}
}

func pageParams(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("perPage", "50"))
	return page, perPage
}

func (s *Server) handleSubscribers(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.EnsureSchema(ctx); err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	page, perPage := pageParams(c)
	enabledOnly := c.Query("enabled") == "1" || c.Query("enabled") == "true"

	subs, total, err := s.store.ListSubscribersPage(ctx, page, perPage, enabledOnly)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	views := make([]subscriberView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, toView(sub))
	}

	respondResult(c, gin.H{
		"subscribers": views,
		"total":       total,
		"page":        page,
		"perPage":     perPage,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.store.EnsureSchema(ctx); err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	page, perPage := pageParams(c)
	events, total, err := s.store.ListEventsPage(ctx, page, perPage)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}

	respondResult(c, gin.H{
		"events":  events,
		"total":   total,
		"page":    page,
		"perPage": perPage,
	})
}

type sendTestRequest struct {
	FID   int64  `json:"fid"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// handleSendTest sends one notification to the configured test fid (or an
// explicit fid) so an operator can verify the pipeline end to end without
// touching real subscribers.
func (s *Server) handleSendTest(c *gin.Context) {
	ctx := c.Request.Context()

	var req sendTestRequest
	_ = c.ShouldBindJSON(&req)

	fid := req.FID
	if fid <= 0 {
		fid = s.config.Manager.TestFID
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	sub, err := s.store.GetSubscriber(ctx, fid, fid)
	if err != nil {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf("no subscriber row for fid %d", fid), nil)
		return
	}
	if !sub.Enabled || sub.Token == nil || sub.NotificationURL == nil {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf("fid %d has no enabled notification token", fid), nil)
		return
	}

	title := req.Title
	if title == "" {
		title = "Test notification"
	}
	body := req.Body
	if body == "" {
		body = fmt.Sprintf("Manager test at %s", time.Now().UTC().Format(time.RFC3339))
	}

	msg := notify.Message{
		NotificationID: fmt.Sprintf("manager-test-%d", time.Now().UnixMilli()),
		Title:          title,
		Body:           body,
		TargetURL:      s.config.App.Origin,
	}

	res := s.dispatcher.Send(ctx, *sub.NotificationURL, []string{*sub.Token}, msg)
	if res.RateLimited(*sub.Token) {
		respondError(c, http.StatusOK, "rate limited, try again", res)
		return
	}
	if !res.OK {
		respondError(c, http.StatusBadGateway, "provider rejected the send", res)
		return
	}

	respondResult(c, res)
}

type sendBroadcastRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	TargetURL      string `json:"targetUrl"`
	NotificationID string `json:"notificationId"`
	DryRun         bool   `json:"dryRun"`
}

// handleSendBroadcast performs the same fan-out as the public admin endpoint,
// driven from the console. Validation mirrors it exactly.
func (s *Server) handleSendBroadcast(c *gin.Context) {
	ctx := c.Request.Context()

	var req sendBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	if req.Title == "" || req.Body == "" || req.TargetURL == "" {
		respondError(c, http.StatusBadRequest, "title, body and targetUrl are required", nil)
		return
	}
	if !strings.HasPrefix(req.TargetURL, s.config.App.Origin) {
		respondError(c, http.StatusBadRequest,
			fmt.Sprintf("targetUrl must start with %s", s.config.App.Origin), nil)
		return
	}

	notificationID := req.NotificationID
	if notificationID == "" {
		now := time.Now().UTC()
		notificationID = fmt.Sprintf("nft-season-%s-%d", now.Format("2006-01-02"), now.UnixMilli())
	}

	if err := s.store.EnsureSchema(ctx); err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	subs, err := s.store.ListEnabledSubscribers(ctx, nil)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "storage error", err.Error())
		return
	}

	if req.DryRun {
		respondResult(c, gin.H{
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

	report, err := s.dispatcher.Broadcast(ctx, targets, msg, s.store)
	if err != nil {
		respondError(c, http.StatusInternalServerError,
			"broadcast sent but invalid token pruning failed", report.Results)
		return
	}

	respondResult(c, gin.H{
		"dryRun":              false,
		"recipients":          report.Recipients,
		"notificationId":      notificationID,
		"invalidTokensPruned": report.InvalidTokensPruned,
		"results":             report.Results,
	})
}
