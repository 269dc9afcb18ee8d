// Package config loads Harrier configuration from defaults, an optional
// config file, and HARRIER_* environment variables, in that order.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Load reads configuration. configPath may be empty, in which case only
// defaults and environment variables apply.
func Load(configPath string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine - defaults and env vars apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HARRIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *domain.Config) error {
	if cfg.Detector.IPFrequencyLimit <= 0 {
		return fmt.Errorf("detector.ip_frequency_limit must be positive")
	}
	if cfg.Detector.DeviceReuseLimit <= 0 {
		return fmt.Errorf("detector.device_reuse_limit must be positive")
	}
	if cfg.Detector.BatchThreshold <= 0 {
		return fmt.Errorf("detector.batch_threshold must be positive")
	}
	if cfg.Behavior.VelocityThreshold <= 0 {
		return fmt.Errorf("behavior.velocity_threshold must be positive")
	}
	if cfg.Scheduler.DispatchHour < 0 || cfg.Scheduler.DispatchHour > 23 {
		return fmt.Errorf("scheduler.dispatch_hour must be in [0,23]")
	}
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", cfg.Store.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper, cfg *domain.Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)
	v.SetDefault("store.postgres_port", 5432)
	v.SetDefault("store.postgres_ssl_mode", "disable")

	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)

	v.SetDefault("bus.type", cfg.EventBus.Type)
	v.SetDefault("bus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)

	v.SetDefault("detector.ip_frequency_limit", cfg.Detector.IPFrequencyLimit)
	v.SetDefault("detector.ip_window", cfg.Detector.IPWindow)
	v.SetDefault("detector.device_reuse_limit", cfg.Detector.DeviceReuseLimit)
	v.SetDefault("detector.fingerprint_similarity", cfg.Detector.FingerprintSimilarity)
	v.SetDefault("detector.email_edit_distance", cfg.Detector.EmailEditDistance)
	v.SetDefault("detector.batch_window", cfg.Detector.BatchWindow)
	v.SetDefault("detector.batch_threshold", cfg.Detector.BatchThreshold)
	v.SetDefault("detector.detector_timeout", cfg.Detector.DetectorTimeout)

	v.SetDefault("behavior.velocity_threshold", cfg.Behavior.VelocityThreshold)
	v.SetDefault("behavior.velocity_window", cfg.Behavior.VelocityWindow)
	v.SetDefault("behavior.min_velocity_samples", cfg.Behavior.MinVelocitySamples)
	v.SetDefault("behavior.deviation_threshold", cfg.Behavior.DeviationThreshold)
	v.SetDefault("behavior.critical_deviation", cfg.Behavior.CriticalDeviation)
	v.SetDefault("behavior.history_limit", cfg.Behavior.HistoryLimit)
	v.SetDefault("behavior.default_score", cfg.Behavior.DefaultScore)

	v.SetDefault("alerts.cooldown_minutes", cfg.Alerts.CooldownMinutes)

	v.SetDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	v.SetDefault("scheduler.dispatch_hour", cfg.Scheduler.DispatchHour)
	v.SetDefault("scheduler.digest_weekday", int(cfg.Scheduler.DigestWeekday))
	v.SetDefault("scheduler.digest_month_day", cfg.Scheduler.DigestMonthDay)
	v.SetDefault("scheduler.retention", cfg.Scheduler.Retention)
	v.SetDefault("scheduler.invite_reminder_lead", cfg.Scheduler.InviteReminderLead)
	v.SetDefault("scheduler.dispatch_batch_size", cfg.Scheduler.DispatchBatchSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
}
