package logging

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nftseason/notifyd/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup initializes the global logger based on configuration
func Setup(cfg *config.LoggingConfig, env string) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output io.Writer
	if cfg.Format == "json" || env == "production" {
		output = os.Stdout
	} else {
		// Pretty console output for development
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
			NoColor:    false,
		}
	}

	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Str("service", "notifyd").
		Logger()
}

// NewLogger creates a new logger with additional context
func NewLogger(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}

// RequestLogger is a Gin middleware for structured request logging
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID := c.GetString("request_id")

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		} else if c.Writer.Status() >= 400 {
			event = log.Warn()
		}

		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", raw).
			Int("status", c.Writer.Status()).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Int("body_size", c.Writer.Size()).
			Msg("HTTP request")
	}
}

// LogDispatch logs the outcome of one outbound notification POST
func LogDispatch(url string, status int, sent, successful, invalid, rateLimited int) {
	event := log.Info()
	if status >= 400 || status == 0 {
		event = log.Warn()
	}

	event.
		Str("notification_url", url).
		Int("status", status).
		Int("tokens_sent", sent).
		Int("successful", successful).
		Int("invalid", invalid).
		Int("rate_limited", rateLimited).
		Msg("Notification dispatch")
}

// LogWebhookEvent logs a processed inbound webhook event
func LogWebhookEvent(requestID, event string, fid int64, outcome string) {
	log.Info().
		Str("request_id", requestID).
		Str("event", event).
		Int64("fid", fid).
		Str("outcome", outcome).
		Msg("Webhook event")
}

// MaskToken renders a push token safe for logs and operator UIs.
// Short tokens keep only the first two characters.
func MaskToken(token string) string {
	if len(token) <= 2 {
		return token
	}
	if len(token) <= 10 {
		return token[:2] + "…"
	}
	return token[:8] + "…" + token[len(token)-4:]
}
