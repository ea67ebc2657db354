package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RulesConfig tunes the transformation rules without a redeploy.
type RulesConfig struct {
	ClosureTolerance  float64  `mapstructure:"closureTolerance"`
	CancelledStatuses []string `mapstructure:"cancelledStatuses"`
}

func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		ClosureTolerance:  0.02,
		CancelledStatuses: []string{"已取消", "已关闭", "退款成功"},
	}
}

type RulesHolder struct {
	current atomic.Value // holds RulesConfig
}

// NewStaticRulesHolder returns a holder that never reloads.
func NewStaticRulesHolder(cfg RulesConfig) *RulesHolder {
	h := &RulesHolder{}
	h.current.Store(cfg)
	return h
}

func NewRulesHolder(log *zap.Logger) (*RulesHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("rules.config")

	v := viper.New()
	v.SetConfigName("rules")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/settlr")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SETTLR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRulesConfig()
	v.SetDefault("rules.closureTolerance", defaults.ClosureTolerance)
	v.SetDefault("rules.cancelledStatuses", defaults.CancelledStatuses)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg RulesConfig
	if err := v.UnmarshalKey("rules", &cfg); err != nil {
		return nil, err
	}
	if err := validateRulesConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticRulesHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RulesConfig
		if err := v.UnmarshalKey("rules", &updated); err != nil {
			log.Warn("rules.config.reload_failed", zap.Error(err))
			return
		}
		if err := validateRulesConfig(updated); err != nil {
			log.Warn("rules.config.invalid", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("rules.config.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *RulesHolder) Get() RulesConfig {
	return h.current.Load().(RulesConfig)
}

func validateRulesConfig(cfg RulesConfig) error {
	if cfg.ClosureTolerance < 0 {
		return errors.New("rules.closureTolerance cannot be negative")
	}
	return nil
}
