package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// SyncConfig holds the tunables of the sync engine. They are read from sync.yml
// and reloaded when the file changes.
type SyncConfig struct {
	BatchSize          int           `mapstructure:"batchSize"`
	MaxAgeDays         int           `mapstructure:"maxAgeDays"`
	HTTPTimeout        time.Duration `mapstructure:"httpTimeout"`
	RecoveryThreshold  time.Duration `mapstructure:"recoveryThreshold"`
	IngestionLockTTL   time.Duration `mapstructure:"ingestionLockTTL"`
	BlockCommentPrefix string        `mapstructure:"blockCommentPrefix"`
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:          1000,
		MaxAgeDays:         3,
		HTTPTimeout:        30 * time.Second,
		RecoveryThreshold:  2 * time.Hour,
		IngestionLockTTL:   30 * time.Minute,
		BlockCommentPrefix: "BLOQ",
	}
}

type SyncConfigHolder struct {
	current atomic.Value // holds SyncConfig
}

func NewSyncConfigHolder() (*SyncConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("sync")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/possync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("POSSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncConfig()
	v.SetDefault("sync.batchSize", defaults.BatchSize)
	v.SetDefault("sync.maxAgeDays", defaults.MaxAgeDays)
	v.SetDefault("sync.httpTimeout", defaults.HTTPTimeout)
	v.SetDefault("sync.recoveryThreshold", defaults.RecoveryThreshold)
	v.SetDefault("sync.ingestionLockTTL", defaults.IngestionLockTTL)
	v.SetDefault("sync.blockCommentPrefix", defaults.BlockCommentPrefix)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg SyncConfig
	if err := v.UnmarshalKey("sync", &cfg); err != nil {
		return nil, err
	}
	if err := validateSyncConfig(cfg); err != nil {
		return nil, err
	}

	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated SyncConfig
			if err := v.UnmarshalKey("sync", &updated); err != nil {
				zap.L().Warn("sync.config.reload_failed", zap.Error(err))
				return
			}
			if err := validateSyncConfig(updated); err != nil {
				zap.L().Warn("sync.config.invalid_ignored", zap.Error(err))
				return
			}
			holder.Set(updated)
			zap.L().Info("sync.config.reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

// NewStaticSyncConfigHolder returns a holder that never reloads.
func NewStaticSyncConfigHolder(cfg SyncConfig) *SyncConfigHolder {
	holder := &SyncConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Set replaces the current settings; readers see them on their next Get.
func (h *SyncConfigHolder) Set(cfg SyncConfig) {
	h.current.Store(cfg)
}

func (h *SyncConfigHolder) Get() SyncConfig {
	if h == nil {
		return DefaultSyncConfig()
	}
	return h.current.Load().(SyncConfig)
}

func validateSyncConfig(cfg SyncConfig) error {
	if cfg.BatchSize <= 0 {
		return errors.New("sync.batchSize must be positive")
	}
	if cfg.MaxAgeDays <= 0 {
		return errors.New("sync.maxAgeDays must be positive")
	}
	if cfg.HTTPTimeout <= 0 {
		return errors.New("sync.httpTimeout must be positive")
	}
	if cfg.RecoveryThreshold <= 0 {
		return errors.New("sync.recoveryThreshold must be positive")
	}
	return nil
}
