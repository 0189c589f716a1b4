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

// SyncPolicy bounds how often and how long a queued write is retried.
type SyncPolicy struct {
	Backoff     BackoffPolicy `mapstructure:"backoff"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// MaxAge is measured from the row's created_at. Zero disables it.
	MaxAge time.Duration `mapstructure:"max_age"`
}

type BackoffPolicy struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Backoff: BackoffPolicy{
			Initial:    5 * time.Second,
			Max:        30 * time.Minute,
			Multiplier: 2,
			Jitter:     0.2,
		},
		MaxAttempts: 25,
		MaxAge:      14 * 24 * time.Hour,
	}
}

// SyncPolicyHolder serves the current policy and swaps it when sync.yml changes.
type SyncPolicyHolder struct {
	current atomic.Value // holds SyncPolicy
}

// NewStaticSyncPolicy returns a holder that never reloads.
func NewStaticSyncPolicy(policy SyncPolicy) *SyncPolicyHolder {
	holder := &SyncPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewSyncPolicyHolder(cfg Config, log *zap.Logger) (*SyncPolicyHolder, error) {
	log = log.Named("config.sync_policy")
	v := viper.New()

	if cfg.SyncPolicyPath != "" {
		v.SetConfigFile(cfg.SyncPolicyPath)
	} else {
		v.SetConfigName("sync")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/roadfuel")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ROADFUEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultSyncPolicy()
	v.SetDefault("sync.backoff.initial", defaults.Backoff.Initial)
	v.SetDefault("sync.backoff.max", defaults.Backoff.Max)
	v.SetDefault("sync.backoff.multiplier", defaults.Backoff.Multiplier)
	v.SetDefault("sync.backoff.jitter", defaults.Backoff.Jitter)
	v.SetDefault("sync.max_attempts", defaults.MaxAttempts)
	v.SetDefault("sync.max_age", defaults.MaxAge)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.SyncPolicyPath != "" {
			return nil, err
		}
		watch = false
	}

	policy, err := decodeSyncPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticSyncPolicy(policy)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeSyncPolicy(v)
		if err != nil {
			log.Warn("sync_policy.reload.invalid", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("sync_policy.reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *SyncPolicyHolder) Get() SyncPolicy {
	return h.current.Load().(SyncPolicy)
}

func decodeSyncPolicy(v *viper.Viper) (SyncPolicy, error) {
	// Unmarshal over all settings so keys missing from the file keep their defaults.
	var doc struct {
		Sync SyncPolicy `mapstructure:"sync"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return SyncPolicy{}, err
	}
	if err := validateSyncPolicy(doc.Sync); err != nil {
		return SyncPolicy{}, err
	}
	return doc.Sync, nil
}

func validateSyncPolicy(p SyncPolicy) error {
	if p.Backoff.Initial <= 0 {
		return errors.New("sync.backoff.initial must be positive")
	}
	if p.Backoff.Max < p.Backoff.Initial {
		return errors.New("sync.backoff.max must be >= sync.backoff.initial")
	}
	if p.Backoff.Multiplier < 1 {
		return errors.New("sync.backoff.multiplier must be >= 1")
	}
	if p.Backoff.Jitter < 0 || p.Backoff.Jitter >= 1 {
		return errors.New("sync.backoff.jitter must be in [0, 1)")
	}
	if p.MaxAttempts < 0 {
		return errors.New("sync.max_attempts cannot be negative")
	}
	if p.MaxAge < 0 {
		return errors.New("sync.max_age cannot be negative")
	}
	return nil
}
