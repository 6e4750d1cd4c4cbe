package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDaemon_Defaults(t *testing.T) {
	cfg, err := LoadDaemon()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, int64(100000), cfg.Redis.MaxLen)
}

func TestLoadDaemon_Postgres(t *testing.T) {
	t.Setenv("PRESENCE_STORAGE", "Postgres")
	_, err := LoadDaemon()
	assert.Error(t, err, "a database url is required")

	t.Setenv("PRESENCE_DATABASE_URL", "postgres://localhost/presence")
	t.Setenv("PRESENCE_CORS_ORIGINS", "https://a.example, https://b.example,")
	cfg, err := LoadDaemon()
	require.NoError(t, err)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
}

func TestLoadDaemon_UnknownStorage(t *testing.T) {
	t.Setenv("PRESENCE_STORAGE", "etcd")
	_, err := LoadDaemon()
	assert.Error(t, err)
}

func TestLoadBot(t *testing.T) {
	_, err := LoadBot()
	assert.Error(t, err, "token is required")

	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_IDS", "42, 7")
	t.Setenv("BOT_SESSION_TTL", "bogus")
	cfg, err := LoadBot()
	require.NoError(t, err)
	assert.Equal(t, []int64{42, 7}, cfg.AdminIDs)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)

	t.Setenv("ADMIN_IDS", "42,x")
	_, err = LoadBot()
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PRESENCE_TEST_FROM_FILE=yes\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("PRESENCE_TEST_FROM_FILE") })

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "yes", os.Getenv("PRESENCE_TEST_FROM_FILE"))

	assert.NoError(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}
