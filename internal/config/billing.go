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

// BillingConfig holds operational billing settings that can change without a
// restart.
type BillingConfig struct {
	Currency             string          `mapstructure:"currency"`
	ProductNamePrefix    string          `mapstructure:"productNamePrefix"`
	WebhookRetentionDays int             `mapstructure:"webhookRetentionDays"`
	WebhookDedupeTTL     time.Duration   `mapstructure:"webhookDedupeTTL"`
	Scheduler            SchedulerConfig `mapstructure:"scheduler"`
}

type SchedulerConfig struct {
	ResyncSweepCron string `mapstructure:"resyncSweepCron"`
	RetentionCron   string `mapstructure:"retentionCron"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Currency:             "usd",
		ProductNamePrefix:    "Coworking Monthly",
		WebhookRetentionDays: 30,
		WebhookDedupeTTL:     72 * time.Hour,
		Scheduler: SchedulerConfig{
			ResyncSweepCron: "0 6 * * *",
			RetentionCron:   "30 3 * * *",
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewStaticBillingConfigHolder returns a holder that never reloads.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder(appCfg Config, log *zap.Logger) (*BillingConfigHolder, error) {
	log = log.Named("config.billing")
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	if dir := strings.TrimSpace(appCfg.BillingConfigDir); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("/etc/deskbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DESKBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.currency", defaults.Currency)
	v.SetDefault("billing.productNamePrefix", defaults.ProductNamePrefix)
	v.SetDefault("billing.webhookRetentionDays", defaults.WebhookRetentionDays)
	v.SetDefault("billing.webhookDedupeTTL", defaults.WebhookDedupeTTL)
	v.SetDefault("billing.scheduler.resyncSweepCron", defaults.Scheduler.ResyncSweepCron)
	v.SetDefault("billing.scheduler.retentionCron", defaults.Scheduler.RetentionCron)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		log.Info("billing config file not found, using defaults")
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticBillingConfigHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("billing config reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid billing config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("billing config reloaded", zap.String("file", e.Name))
	})
	v.WatchConfig()

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if len(strings.TrimSpace(cfg.Currency)) != 3 {
		return errors.New("billing.currency must be a 3-letter ISO code")
	}
	if strings.TrimSpace(cfg.ProductNamePrefix) == "" {
		return errors.New("billing.productNamePrefix cannot be empty")
	}
	if cfg.WebhookRetentionDays < 0 {
		return errors.New("billing.webhookRetentionDays cannot be negative")
	}
	if cfg.WebhookDedupeTTL < 0 {
		return errors.New("billing.webhookDedupeTTL cannot be negative")
	}
	return nil
}
