package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Manager    ManagerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Admin      AdminConfig
	App        AppConfig
	Notify     NotifyConfig
	Logging    LoggingConfig
	Monitoring MonitoringConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// ManagerConfig configures the localhost-only notifications manager.
type ManagerConfig struct {
	Port    int
	Token   string
	NoToken bool
	TestFID int64
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

type AdminConfig struct {
	Token string
}

// AppConfig identifies the mini-app this service fronts.
type AppConfig struct {
	// Origin is the deployed origin of the mini-app. Broadcast target URLs
	// must live under it.
	Origin string
	// FID is the app's own Farcaster id. In the single-app deployment the
	// webhook header fid doubles as the app fid.
	FID int64
}

type NotifyConfig struct {
	// DispatchTimeout bounds each outbound POST to a provider notification URL (seconds).
	DispatchTimeout int
	WelcomeTitle    string
	WelcomeBody     string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MonitoringConfig struct {
	PrometheusEnabled bool
	PrometheusPort    int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("API_PORT", 8080),
			Env:  getEnv("APP_ENV", "development"),
		},
		Manager: ManagerConfig{
			Port:    getEnvInt("NOTIFY_MANAGER_PORT", 8788),
			Token:   getEnv("EDITOR_TOKEN", ""),
			NoToken: getEnv("EDITOR_NO_TOKEN", "") == "1",
			TestFID: int64(getEnvInt("NOTIFY_TEST_FID", 372916)),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		App: AppConfig{
			Origin: strings.TrimRight(getEnv("APP_ORIGIN", "https://nft-season.vercel.app"), "/"),
			FID:    int64(getEnvInt("NOTIFY_APP_FID", 372916)),
		},
		Notify: NotifyConfig{
			DispatchTimeout: getEnvInt("NOTIFY_DISPATCH_TIMEOUT", 15),
			WelcomeTitle:    getEnv("NOTIFY_WELCOME_TITLE", "NFT Season"),
			WelcomeBody:     getEnv("NOTIFY_WELCOME_BODY", "Notifications are on. We'll ping you when new drops land."),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Monitoring: MonitoringConfig{
			PrometheusEnabled: getEnv("PROMETHEUS_ENABLED", "true") == "true",
			PrometheusPort:    getEnvInt("PROMETHEUS_PORT", 9090),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Server.Env == "production" && c.Admin.Token == "" {
		return fmt.Errorf("ADMIN_TOKEN is required in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
