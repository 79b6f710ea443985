package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerDefaults(t *testing.T) {
	c, err := ParseServer(nil)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", c.Addr)
	assert.Equal(t, "pixelboard.sqlite3", c.Database)
	assert.Empty(t, c.RedisAddr)
	assert.Equal(t, 5*time.Second, c.BackupInterval)
	assert.Equal(t, slog.LevelInfo, c.LogLevel)
}

func TestParseServerFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PIXELBOARD_ADDR", "0.0.0.0:9000")
	t.Setenv("PIXELBOARD_BACKUP_INTERVAL", "1m")
	c, err := ParseServer([]string{"-addr", "127.0.0.1:9999", "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", c.Addr)
	assert.Equal(t, time.Minute, c.BackupInterval)
	assert.Equal(t, slog.LevelDebug, c.LogLevel)
}

func TestParseServerRejectsBadValues(t *testing.T) {
	_, err := ParseServer([]string{"-backup-interval", "0s"})
	assert.Error(t, err)
	_, err = ParseServer([]string{"-log-level", "loud"})
	assert.Error(t, err)
}

func TestParseClient(t *testing.T) {
	t.Setenv("PIXELBOARD_WIDTH", "16")
	c, err := ParseClient([]string{"-url", "http://example.com/#abc"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/#abc", c.URL)
	assert.Equal(t, 16, c.Width)
	assert.Equal(t, 8, c.Height)
	assert.Equal(t, uint64(5), c.MaxRetries)

	_, err = ParseClient([]string{"-height", "0"})
	assert.Error(t, err)
}

func TestParseClientRejectsBoardsTheServerWouldRefuse(t *testing.T) {
	c, err := ParseClient([]string{"-width", "64", "-height", "64"})
	require.NoError(t, err)
	assert.Equal(t, 64, c.Width)

	for _, args := range [][]string{{"-width", "65"}, {"-height", "100"}} {
		_, err := ParseClient(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PIXELBOARD_TEST_DOTENV=from-file\n"), 0o600))
	t.Setenv("PIXELBOARD_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("PIXELBOARD_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("PIXELBOARD_TEST_DOTENV"))
}
