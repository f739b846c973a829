package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func runMiddleware(mw gin.HandlerFunc, mutate func(*http.Request)) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(mw)
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	w := runMiddleware(RequestID(), nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_EchoesExisting(t *testing.T) {
	w := runMiddleware(RequestID(), func(r *http.Request) {
		r.Header.Set("X-Request-ID", "req-abc")
	})
	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		serverTok  string
		authHeader string
		wantStatus int
	}{
		{"unset server token is a deployment error", "", "Bearer x", http.StatusInternalServerError},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"not a bearer header", "secret", "Basic abc", http.StatusUnauthorized},
		{"wrong token", "secret", "Bearer wrong", http.StatusForbidden},
		{"correct token", "secret", "Bearer secret", http.StatusOK},
		{"trailing whitespace tolerated", "secret", "Bearer secret ", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := runMiddleware(RequireAdmin(tt.serverTok), func(r *http.Request) {
				if tt.authHeader != "" {
					r.Header.Set("Authorization", tt.authHeader)
				}
			})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLocalOnly(t *testing.T) {
	tests := []struct {
		remoteAddr string
		wantStatus int
	}{
		{"127.0.0.1:5000", http.StatusOK},
		{"[::1]:5000", http.StatusOK},
		{"[::ffff:127.0.0.1]:5000", http.StatusOK},
		{"10.0.0.5:5000", http.StatusForbidden},
		{"203.0.113.9:443", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			w := runMiddleware(LocalOnly(), func(r *http.Request) {
				r.RemoteAddr = tt.remoteAddr
			})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSameOriginOnly(t *testing.T) {
	allowed := []string{"http://localhost", "http://127.0.0.1"}

	tests := []struct {
		name       string
		origin     string
		wantStatus int
	}{
		{"no origin header passes", "", http.StatusOK},
		{"allowed origin", "http://localhost", http.StatusOK},
		{"foreign origin", "https://evil.example", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := runMiddleware(SameOriginOnly(allowed), func(r *http.Request) {
				if tt.origin != "" {
					r.Header.Set("Origin", tt.origin)
				}
			})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestRequireEditorToken(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		noToken    bool
		header     string
		wantStatus int
	}{
		{"no-token mode skips the check", "", true, "", http.StatusOK},
		{"unset token without no-token mode", "", false, "x", http.StatusInternalServerError},
		{"missing header", "secret", false, "", http.StatusUnauthorized},
		{"wrong token", "secret", false, "wrong", http.StatusUnauthorized},
		{"correct token", "secret", false, "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := runMiddleware(RequireEditorToken(tt.token, tt.noToken), func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set("X-Editor-Token", tt.header)
				}
			})
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	router := gin.New()
	router.Use(CORS([]string{"*"}))
	router.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://nft-season.vercel.app")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://nft-season.vercel.app", w.Header().Get("Access-Control-Allow-Origin"))
}
