package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("POSSYNC_NODE", "main")
	t.Setenv("HTTP_READ_TIMEOUT", "5s")
	t.Setenv("DATABASE_DEBUG", "yes")
	t.Setenv("SNOWFLAKE_NODE", "7")
	t.Setenv("LOCATION_CODE", " 001 ")

	cfg := Load()

	assert.Equal(t, NodeAdmin, cfg.Node)
	assert.True(t, cfg.IsAdmin())
	assert.Equal(t, 5*time.Second, cfg.HTTPReadTimeout)
	assert.True(t, cfg.DBDebug)
	assert.Equal(t, int64(7), cfg.SnowflakeNode)
	assert.Equal(t, "001", cfg.DefaultLocationCode)
}

func TestLoadFallsBackOnInvalidValues(t *testing.T) {
	t.Setenv("POSSYNC_NODE", "unknown")
	t.Setenv("HTTP_WRITE_TIMEOUT", "-1s")
	t.Setenv("DATABASE_MAX_OPEN_CONN", "many")

	cfg := Load()

	assert.Equal(t, NodeLocation, cfg.Node)
	assert.Equal(t, 60*time.Second, cfg.HTTPWriteTimeout)
	assert.Equal(t, 20, cfg.DBMaxOpenConn)
}

func TestNewSyncConfigHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewSyncConfigHolder()
	require.NoError(t, err)
	assert.Equal(t, DefaultSyncConfig(), holder.Get())
}

func TestValidateSyncConfig(t *testing.T) {
	cfg := DefaultSyncConfig()
	require.NoError(t, validateSyncConfig(cfg))

	cfg.BatchSize = 0
	assert.Error(t, validateSyncConfig(cfg))

	cfg = DefaultSyncConfig()
	cfg.HTTPTimeout = 0
	assert.Error(t, validateSyncConfig(cfg))
}

func TestNilHolderReturnsDefaults(t *testing.T) {
	var holder *SyncConfigHolder
	assert.Equal(t, DefaultSyncConfig(), holder.Get())
}
