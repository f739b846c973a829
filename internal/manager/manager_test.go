package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftseason/notifyd/internal/config"
	"github.com/nftseason/notifyd/internal/models"
	"github.com/nftseason/notifyd/internal/notify"
	"github.com/nftseason/notifyd/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeStore struct {
	subs   map[[2]int64]*models.Subscriber
	events []models.WebhookEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: make(map[[2]int64]*models.Subscriber)}
}

func (f *fakeStore) add(fid int64, token, url string, enabled bool, updatedAt time.Time) {
	var tok, u *string
	if token != "" {
		tok = &token
	}
	if url != "" {
		u = &url
	}
	f.subs[[2]int64{fid, fid}] = &models.Subscriber{
		FID: fid, AppFID: fid, Token: tok, NotificationURL: u,
		Enabled: enabled, UpdatedAt: updatedAt,
	}
}

func (f *fakeStore) EnsureSchema(context.Context) error { return nil }

func (f *fakeStore) GetSubscriber(_ context.Context, fid, appFID int64) (*models.Subscriber, error) {
	sub, ok := f.subs[[2]int64{fid, appFID}]
	if !ok {
		return nil, store.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeStore) ListEnabledSubscribers(context.Context, *int64) ([]models.Subscriber, error) {
	var out []models.Subscriber
	for _, sub := range f.subs {
		if sub.Enabled && sub.Token != nil && sub.NotificationURL != nil {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeStore) PruneInvalidTokens(_ context.Context, tokens []string) (int64, error) {
	var pruned int64
	for _, sub := range f.subs {
		for _, tok := range tokens {
			if sub.Token != nil && *sub.Token == tok {
				sub.Token, sub.NotificationURL, sub.Enabled = nil, nil, false
				pruned++
			}
		}
	}
	return pruned, nil
}

func (f *fakeStore) CountSubscribers(context.Context) (int64, int64, error) {
	total := int64(len(f.subs))
	var enabled int64
	for _, sub := range f.subs {
		if sub.Enabled {
			enabled++
		}
	}
	return total, enabled, nil
}

func (f *fakeStore) ListSubscribersPage(_ context.Context, page, perPage int, enabledOnly bool) ([]models.Subscriber, int64, error) {
	var all []models.Subscriber
	for _, sub := range f.subs {
		if enabledOnly && !sub.Enabled {
			continue
		}
		all = append(all, *sub)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })
	return all, int64(len(all)), nil
}

func (f *fakeStore) ListEventsPage(context.Context, int, int) ([]models.WebhookEvent, int64, error) {
	return f.events, int64(len(f.events)), nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Env: "test"},
		Manager: config.ManagerConfig{Port: 8788, Token: "editor-secret", TestFID: 372916},
		App:     config.AppConfig{Origin: "https://nft-season.vercel.app", FID: 372916},
		Notify:  config.NotifyConfig{DispatchTimeout: 5},
	}
}

func newTestManager(t *testing.T, st Store) *Server {
	t.Helper()
	return New(testConfig(), st, notify.NewDispatcher(5*time.Second))
}

func doManager(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr == "" {
		remoteAddr = "127.0.0.1:54321"
	}
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func editorHeaders() map[string]string {
	return map[string]string{"X-Editor-Token": "editor-secret"}
}

func TestManager_RejectsNonLoopback(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	w := doManager(t, srv.Router(), http.MethodGet, "/api/health", nil,
		editorHeaders(), "203.0.113.9:1234")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// IPv4-mapped IPv6 loopback still counts as local.
	w = doManager(t, srv.Router(), http.MethodGet, "/api/health", nil,
		editorHeaders(), "[::ffff:127.0.0.1]:1234")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManager_RequiresEditorToken(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	w := doManager(t, srv.Router(), http.MethodGet, "/api/health", nil, nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doManager(t, srv.Router(), http.MethodGet, "/api/health", nil,
		map[string]string{"X-Editor-Token": "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doManager(t, srv.Router(), http.MethodGet, "/api/health", nil, editorHeaders(), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManager_NoTokenModeSkipsAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Manager.Token = ""
	cfg.Manager.NoToken = true
	srv := New(cfg, newFakeStore(), notify.NewDispatcher(time.Second))

	w := doManager(t, srv.Router(), http.MethodGet, "/api/health", nil, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManager_RejectsForeignOrigin(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	headers := editorHeaders()
	headers["Origin"] = "https://evil.example"
	w := doManager(t, srv.Router(), http.MethodGet, "/api/health", nil, headers, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestManager_ConsoleServedWithoutToken(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	w := doManager(t, srv.Router(), http.MethodGet, "/", nil, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "Notifications Manager")
}

func TestManager_SubscribersMasksTokens(t *testing.T) {
	st := newFakeStore()
	st.add(1, "secrettoken-abcdef-123456", "https://n.example/1", true, time.Now().UTC())
	srv := newTestManager(t, st)

	w := doManager(t, srv.Router(), http.MethodGet, "/api/subscribers", nil, editorHeaders(), "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "secrettoken-abcdef-123456")
	assert.Contains(t, body, "secretto…3456")

	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			Subscribers []subscriberView `json:"subscribers"`
			Total       int64            `json:"total"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, int64(1), resp.Result.Total)
	require.Len(t, resp.Result.Subscribers, 1)
	assert.Equal(t, int64(1), resp.Result.Subscribers[0].FID)
}

func TestManager_SendTestWithoutEnabledToken(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	w := doManager(t, srv.Router(), http.MethodPost, "/api/send/test",
		map[string]any{}, editorHeaders(), "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["ok"])
}

func TestManager_SendTestDeliversToTestFID(t *testing.T) {
	var got struct {
		Tokens []string `json:"tokens"`
		Title  string   `json:"title"`
	}
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"successfulTokens":["tok-test"],"invalidTokens":[],"rateLimitedTokens":[]}`)
	}))
	defer provider.Close()

	st := newFakeStore()
	st.add(372916, "tok-test", provider.URL, true, time.Now().UTC())
	srv := newTestManager(t, st)

	w := doManager(t, srv.Router(), http.MethodPost, "/api/send/test",
		map[string]any{}, editorHeaders(), "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.Equal(t, []string{"tok-test"}, got.Tokens)
	assert.Equal(t, "Test notification", got.Title)
}

func TestManager_BroadcastValidation(t *testing.T) {
	srv := newTestManager(t, newFakeStore())

	w := doManager(t, srv.Router(), http.MethodPost, "/api/send/broadcast",
		map[string]any{"title": "t"}, editorHeaders(), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doManager(t, srv.Router(), http.MethodPost, "/api/send/broadcast",
		map[string]any{"title": "t", "body": "b", "targetUrl": "https://evil.example/"},
		editorHeaders(), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManager_BroadcastDryRun(t *testing.T) {
	st := newFakeStore()
	st.add(1, "tok-1", "https://n.example/1", true, time.Now().UTC())
	st.add(2, "tok-2", "https://n.example/2", true, time.Now().UTC())
	st.add(3, "", "", false, time.Now().UTC())
	srv := newTestManager(t, st)

	w := doManager(t, srv.Router(), http.MethodPost, "/api/send/broadcast",
		map[string]any{
			"title": "Drop", "body": "Live now",
			"targetUrl": "https://nft-season.vercel.app/drop", "dryRun": true,
		}, editorHeaders(), "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		OK     bool `json:"ok"`
		Result struct {
			DryRun     bool `json:"dryRun"`
			Recipients int  `json:"recipients"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.True(t, resp.Result.DryRun)
	assert.Equal(t, 2, resp.Result.Recipients)
}
