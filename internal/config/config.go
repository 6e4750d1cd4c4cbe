// Package config loads the presence daemon and bot settings from the
// environment, optionally seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Log holds the logger settings shared by every binary.
type Log struct {
	Level  string
	Format string
}

// Daemon configures presenced.
type Daemon struct {
	HTTP struct {
		Addr        string
		CORSOrigins []string
	}
	Storage     string
	DataDir     string
	SQLitePath  string
	DatabaseURL string
	AuditLog    string
	Redis       struct {
		Addr     string
		Password string
		DB       int
		Stream   string
		MaxLen   int64
	}
	Log Log
}

// Bot configures presence-bot.
type Bot struct {
	Token          string
	APIURL         string
	DataDir        string
	AdminIDs       []int64
	SessionTTL     time.Duration
	RequestTimeout time.Duration
	Log            Log
}

// LoadEnv reads a .env file into the environment when present. Variables
// already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "load %s", f)
		}
	}
	return nil
}

// LoadDaemon reads the daemon settings.
func LoadDaemon() (*Daemon, error) {
	cfg := &Daemon{}
	cfg.HTTP.Addr = getEnv("PRESENCE_HTTP_ADDR", ":8000")
	cfg.HTTP.CORSOrigins = splitList(getEnv("PRESENCE_CORS_ORIGINS", "*"))

	cfg.Storage = strings.ToLower(getEnv("PRESENCE_STORAGE", StorageMemory))
	cfg.DataDir = getEnv("PRESENCE_DATA_DIR", "./data")
	cfg.SQLitePath = getEnv("PRESENCE_SQLITE_PATH", "./data/presence.db")
	cfg.DatabaseURL = getEnv("PRESENCE_DATABASE_URL", "")
	cfg.AuditLog = getEnv("PRESENCE_AUDIT_LOG", "./logs/activity.log")

	cfg.Redis.Addr = getEnv("PRESENCE_REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("PRESENCE_REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("PRESENCE_REDIS_DB", "0"), 0)
	cfg.Redis.Stream = getEnv("PRESENCE_REDIS_STREAM", "presence:audit")
	cfg.Redis.MaxLen = int64(parseInt(getEnv("PRESENCE_REDIS_STREAM_MAXLEN", "100000"), 100000))

	cfg.Log = loadLog()

	switch cfg.Storage {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("PRESENCE_DATABASE_URL is required for postgres storage")
		}
	default:
		return nil, errors.Newf("unknown PRESENCE_STORAGE %q", cfg.Storage)
	}
	return cfg, nil
}

// LoadBot reads the bot settings.
func LoadBot() (*Bot, error) {
	cfg := &Bot{
		Token:          getEnv("BOT_TOKEN", ""),
		APIURL:         getEnv("API_URL", ""),
		DataDir:        getEnv("PRESENCE_DATA_DIR", "./data"),
		SessionTTL:     parseDuration(getEnv("BOT_SESSION_TTL", "10m"), 10*time.Minute),
		RequestTimeout: parseDuration(getEnv("BOT_REQUEST_TIMEOUT", "10s"), 10*time.Second),
		Log:            loadLog(),
	}
	if cfg.Token == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}

	ids, err := parseIDs(getEnv("ADMIN_IDS", ""))
	if err != nil {
		return nil, err
	}
	cfg.AdminIDs = ids
	return cfg, nil
}

func loadLog() Log {
	return Log{
		Level:  getEnv("LOG_LEVEL", "info"),
		Format: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseIDs reads a comma separated list of Telegram user ids.
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "ADMIN_IDS: bad id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
