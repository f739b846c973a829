// Package notify delivers push notifications to subscriber-supplied callback
// URLs and classifies the provider's per-token outcome report.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nftseason/notifyd/internal/logging"
	"github.com/nftseason/notifyd/internal/monitoring"
	"github.com/rs/zerolog"
)

// Provider-imposed limits. Enforced before sending, never assumed.
const (
	MaxTitleLen          = 32
	MaxBodyLen           = 128
	MaxNotificationIDLen = 128
	MaxBatchSize         = 100
)

// Message is one notification to deliver. Fields longer than the provider
// limits are truncated by Truncated before hitting the wire.
type Message struct {
	NotificationID string `json:"notificationId"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	TargetURL      string `json:"targetUrl"`
}

// Truncated returns a copy with title, body and notificationId clipped to
// the provider limits.
func (m Message) Truncated() Message {
	m.NotificationID = truncate(m.NotificationID, MaxNotificationIDLen)
	m.Title = truncate(m.Title, MaxTitleLen)
	m.Body = truncate(m.Body, MaxBodyLen)
	return m
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Target is one recipient of a broadcast.
type Target struct {
	NotificationURL string
	Token           string
}

// DispatchResult is the classified outcome of one outbound POST.
type DispatchResult struct {
	URL               string   `json:"url"`
	Status            int      `json:"status"`
	OK                bool     `json:"ok"`
	BatchSize         int      `json:"batchSize"`
	SuccessfulTokens  []string `json:"successfulTokens"`
	InvalidTokens     []string `json:"invalidTokens"`
	RateLimitedTokens []string `json:"rateLimitedTokens"`
	// Response is the parsed provider body, or {"raw": <text>} when the body
	// was not JSON. Kept for operator diagnostics.
	Response any    `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RateLimited reports whether the provider rate-limited the given token.
func (r DispatchResult) RateLimited(token string) bool {
	for _, t := range r.RateLimitedTokens {
		if t == token {
			return true
		}
	}
	return false
}

// BroadcastReport aggregates every batch of one broadcast invocation.
type BroadcastReport struct {
	Recipients          int              `json:"recipients"`
	Results             []DispatchResult `json:"results"`
	InvalidTokens       []string         `json:"-"`
	InvalidTokensPruned int64            `json:"invalidTokensPruned"`
}

// Pruner removes invalid tokens from the subscriber registry after a broadcast.
type Pruner interface {
	PruneInvalidTokens(ctx context.Context, tokens []string) (int64, error)
}

// Dispatcher posts notification batches to provider callback URLs.
type Dispatcher struct {
	client   *http.Client
	breakers *breakerSet
	log      zerolog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds each outbound POST so a
// hung provider cannot stall an admin broadcast.
func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		client:   &http.Client{Timeout: timeout},
		breakers: newBreakerSet(),
		log:      logging.NewLogger("dispatcher"),
	}
}

// dispatchRequest is the wire shape POSTed to the notification URL.
// tokens is an array even for single-recipient sends.
type dispatchRequest struct {
	NotificationID string   `json:"notificationId"`
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	TargetURL      string   `json:"targetUrl"`
	Tokens         []string `json:"tokens"`
}

// providerTokens is the per-token outcome report. Providers return it either
// flat or nested under "result"; both shapes are accepted and normalized.
type providerTokens struct {
	SuccessfulTokens  []string `json:"successfulTokens"`
	InvalidTokens     []string `json:"invalidTokens"`
	RateLimitedTokens []string `json:"rateLimitedTokens"`
}

// Send issues one POST with the given tokens to a notification URL and
// classifies the response. Transport failures and non-JSON bodies are
// captured in the result, never raised: one bad batch must not abort the
// caller's loop.
func (d *Dispatcher) Send(ctx context.Context, notificationURL string, tokens []string, msg Message) DispatchResult {
	msg = msg.Truncated()
	result := DispatchResult{
		URL:               notificationURL,
		BatchSize:         len(tokens),
		SuccessfulTokens:  []string{},
		InvalidTokens:     []string{},
		RateLimitedTokens: []string{},
	}

	payload, err := json.Marshal(dispatchRequest{
		NotificationID: msg.NotificationID,
		Title:          msg.Title,
		Body:           msg.Body,
		TargetURL:      msg.TargetURL,
		Tokens:         tokens,
	})
	if err != nil {
		result.Error = fmt.Sprintf("failed to encode request: %v", err)
		return result
	}

	start := time.Now()
	out, err := d.breakers.execute(notificationURL, func() (any, error) {
		return d.post(ctx, notificationURL, payload)
	})
	monitoring.RecordDispatch(statusOf(out), time.Since(start))

	if err != nil {
		result.Error = err.Error()
	}

	// A 5xx arrives as both an error (to trip the breaker) and a response;
	// the status and body are still reported per batch.
	resp, _ := out.(*postResult)
	if resp == nil {
		logging.LogDispatch(notificationURL, 0, len(tokens), 0, 0, 0)
		return result
	}
	result.Status = resp.status

	var parsed any
	if jsonErr := json.Unmarshal(resp.body, &parsed); jsonErr != nil {
		// Keep the raw text for diagnostics; classification gets defaults.
		result.Response = map[string]string{"raw": string(resp.body)}
		result.OK = false
	} else {
		result.Response = parsed
		result.OK = err == nil && resp.status >= 200 && resp.status < 300

		report := normalizeProviderResponse(resp.body)
		result.SuccessfulTokens = report.SuccessfulTokens
		result.InvalidTokens = report.InvalidTokens
		result.RateLimitedTokens = report.RateLimitedTokens
	}

	monitoring.RecordTokenOutcomes(
		len(result.SuccessfulTokens), len(result.InvalidTokens), len(result.RateLimitedTokens))
	logging.LogDispatch(notificationURL, resp.status, len(tokens),
		len(result.SuccessfulTokens), len(result.InvalidTokens), len(result.RateLimitedTokens))

	return result
}

type postResult struct {
	status int
	body   []byte
}

func (d *Dispatcher) post(ctx context.Context, url string, payload []byte) (*postResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 5xx trips the breaker; 4xx is the provider talking to us, not down.
	if resp.StatusCode >= 500 {
		return &postResult{status: resp.StatusCode, body: body},
			fmt.Errorf("provider returned %d", resp.StatusCode)
	}
	return &postResult{status: resp.StatusCode, body: body}, nil
}

func statusOf(out any) int {
	if r, ok := out.(*postResult); ok && r != nil {
		return r.status
	}
	return 0
}

// normalizeProviderResponse accepts both the flat and the result-nested
// outcome shape and folds them into one report with non-nil slices.
func normalizeProviderResponse(body []byte) providerTokens {
	var flat providerTokens
	var nested struct {
		Result providerTokens `json:"result"`
	}
	_ = json.Unmarshal(body, &flat)
	_ = json.Unmarshal(body, &nested)

	pick := func(a, b []string) []string {
		if len(a) > 0 {
			return a
		}
		if len(b) > 0 {
			return b
		}
		return []string{}
	}

	return providerTokens{
		SuccessfulTokens:  pick(flat.SuccessfulTokens, nested.Result.SuccessfulTokens),
		InvalidTokens:     pick(flat.InvalidTokens, nested.Result.InvalidTokens),
		RateLimitedTokens: pick(flat.RateLimitedTokens, nested.Result.RateLimitedTokens),
	}
}

// Broadcast fans one message out to every target: targets are grouped by
// notification URL, each group is split into batches of at most
// MaxBatchSize, and batches are sent sequentially. Batch failures are
// recorded independently; after all batches complete, the union of invalid
// tokens is pruned exactly once.
func (d *Dispatcher) Broadcast(ctx context.Context, targets []Target, msg Message, pruner Pruner) (*BroadcastReport, error) {
	report := &BroadcastReport{
		Recipients: len(targets),
		Results:    []DispatchResult{},
	}

	// Group by URL, preserving first-seen order for stable output.
	var urls []string
	byURL := make(map[string][]string)
	for _, t := range targets {
		if t.NotificationURL == "" || t.Token == "" {
			continue
		}
		if _, seen := byURL[t.NotificationURL]; !seen {
			urls = append(urls, t.NotificationURL)
		}
		byURL[t.NotificationURL] = append(byURL[t.NotificationURL], t.Token)
	}

	invalidSet := make(map[string]struct{})
	for _, url := range urls {
		tokens := byURL[url]
		for start := 0; start < len(tokens); start += MaxBatchSize {
			end := start + MaxBatchSize
			if end > len(tokens) {
				end = len(tokens)
			}

			monitoring.RecordBroadcastBatch()
			res := d.Send(ctx, url, tokens[start:end], msg)
			report.Results = append(report.Results, res)

			for _, t := range res.InvalidTokens {
				invalidSet[t] = struct{}{}
			}
		}
	}

	for t := range invalidSet {
		report.InvalidTokens = append(report.InvalidTokens, t)
	}

	if pruner != nil && len(report.InvalidTokens) > 0 {
		pruned, err := pruner.PruneInvalidTokens(ctx, report.InvalidTokens)
		if err != nil {
			return report, fmt.Errorf("failed to prune invalid tokens: %w", err)
		}
		report.InvalidTokensPruned = pruned
		monitoring.RecordTokensPruned(pruned)
	}

	return report, nil
}
