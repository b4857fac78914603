package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/paircal/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort  string
	MetricsPort string

	// Rate Limit
	RateLimitGeneral int
	RateLimitSync    int

	// Notification
	NotificationQueueSize int

	// Worker
	OrphanSweepInterval time.Duration
	CodePurgeInterval   time.Duration

	// Availability
	// 多忙区間の計算に含める共有イベントのステータス。
	BusyStatuses []model.EventStatus

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)
	cfg.NotificationQueueSize = getEnvInt("NOTIFICATION_QUEUE_SIZE", 256)
	cfg.OrphanSweepInterval = getEnvDuration("ORPHAN_SWEEP_INTERVAL", 1*time.Hour)
	cfg.CodePurgeInterval = getEnvDuration("CODE_PURGE_INTERVAL", 15*time.Minute)

	busy, err := parseBusyStatuses(getEnvString("BUSY_STATUSES", "PENDING,CONFIRMED"))
	if err != nil {
		return nil, err
	}
	cfg.BusyStatuses = busy

	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", false)
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// parseBusyStatuses はカンマ区切りのイベントステータス一覧を検証付きで解析する。
func parseBusyStatuses(raw string) ([]model.EventStatus, error) {
	parts := strings.Split(raw, ",")
	statuses := make([]model.EventStatus, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		switch s := model.EventStatus(p); s {
		case model.EventStatusPending, model.EventStatusConfirmed,
			model.EventStatusRejected, model.EventStatusCancelled:
			statuses = append(statuses, s)
		default:
			return nil, fmt.Errorf("invalid event status in BUSY_STATUSES: %q", p)
		}
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("BUSY_STATUSES must contain at least one event status")
	}
	return statuses, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
