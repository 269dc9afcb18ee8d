package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`

	// Component configurations
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	EventBus EventBusConfig `mapstructure:"bus"`

	// Engine tuning
	Detector  DetectorConfig  `mapstructure:"detector"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Alerts    AlertConfig     `mapstructure:"alerts"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// DetectorConfig tunes the per-attempt risk detectors.
type DetectorConfig struct {
	// IPFrequencyLimit blocks when this many registrations share an IP
	// within IPWindow.
	IPFrequencyLimit int           `mapstructure:"ip_frequency_limit"`
	IPWindow         time.Duration `mapstructure:"ip_window"`

	// DeviceReuseLimit blocks when this many distinct users share a
	// fingerprint hash.
	DeviceReuseLimit int `mapstructure:"device_reuse_limit"`

	// FingerprintSimilarity is the weighted-field score at or above which
	// two structurally different fingerprints count as the same device.
	FingerprintSimilarity float64 `mapstructure:"fingerprint_similarity"`

	// EmailEditDistance is the Levenshtein threshold for the
	// self-invitation alias check.
	EmailEditDistance int `mapstructure:"email_edit_distance"`

	// Batch-registration pattern window and per-dimension threshold.
	// The email-domain dimension uses twice the threshold.
	BatchWindow    time.Duration `mapstructure:"batch_window"`
	BatchThreshold int           `mapstructure:"batch_threshold"`

	// DetectorTimeout bounds each detector during concurrent evaluation;
	// a timed-out detector degrades to a fail-open result.
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
}

// BehaviorConfig tunes the behavior analyzer.
type BehaviorConfig struct {
	// VelocityThreshold is events per hour above which a velocity_spike
	// alert is raised over VelocityWindow (requires MinVelocitySamples).
	VelocityThreshold  float64       `mapstructure:"velocity_threshold"`
	VelocityWindow     time.Duration `mapstructure:"velocity_window"`
	MinVelocitySamples int           `mapstructure:"min_velocity_samples"`

	// DeviationThreshold raises a pattern_deviation alert; above
	// CriticalDeviation the alert is critical.
	DeviationThreshold float64 `mapstructure:"deviation_threshold"`
	CriticalDeviation  float64 `mapstructure:"critical_deviation"`

	// HistoryLimit caps retained samples per (user, pattern type).
	HistoryLimit int `mapstructure:"history_limit"`

	// DefaultScore is assigned when a user has no history yet.
	DefaultScore float64 `mapstructure:"default_score"`
}

// AlertConfig tunes alert dispatch.
type AlertConfig struct {
	// CooldownMinutes is the per-rule cooldown; individual rules may
	// override it when registered.
	CooldownMinutes int `mapstructure:"cooldown_minutes"`

	// WebhookURL receives alert payloads when the webhook action fires.
	WebhookURL string `mapstructure:"webhook_url"`

	// AdminUserID addresses notify_admin notifications.
	AdminUserID string `mapstructure:"admin_user_id"`
}

// SchedulerConfig tunes the background notification scheduler.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// DispatchHour is the local wall-clock hour for the daily pending
	// dispatch and cleanup jobs.
	DispatchHour int `mapstructure:"dispatch_hour"`

	// DigestWeekday and DigestMonthDay gate weekly/monthly digests.
	DigestWeekday  time.Weekday `mapstructure:"digest_weekday"`
	DigestMonthDay int          `mapstructure:"digest_month_day"`

	// Retention bounds how long delivered notifications are kept.
	Retention time.Duration `mapstructure:"retention"`

	// InviteReminderLead is how far ahead of expiry reminders fire.
	InviteReminderLead time.Duration `mapstructure:"invite_reminder_lead"`

	// DispatchBatchSize bounds one tick's pending drain.
	DispatchBatchSize int `mapstructure:"dispatch_batch_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns the default configuration: sqlite store, in-memory
// cache, channel bus, and the documented detector thresholds.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Detector: DetectorConfig{
			IPFrequencyLimit:      5,
			IPWindow:              time.Hour,
			DeviceReuseLimit:      3,
			FingerprintSimilarity: 0.9,
			EmailEditDistance:     2,
			BatchWindow:           300 * time.Second,
			BatchThreshold:        3,
			DetectorTimeout:       2 * time.Second,
		},
		Behavior: BehaviorConfig{
			VelocityThreshold:  10,
			VelocityWindow:     24 * time.Hour,
			MinVelocitySamples: 5,
			DeviationThreshold: 2.0,
			CriticalDeviation:  3.0,
			HistoryLimit:       100,
			DefaultScore:       0.5,
		},
		Alerts: AlertConfig{
			CooldownMinutes: 30,
		},
		Scheduler: SchedulerConfig{
			TickInterval:       time.Hour,
			DispatchHour:       9,
			DigestWeekday:      time.Monday,
			DigestMonthDay:     1,
			Retention:          30 * 24 * time.Hour,
			InviteReminderLead: 72 * time.Hour,
			DispatchBatchSize:  200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}
