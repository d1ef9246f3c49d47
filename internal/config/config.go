package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultStateDir          = "/var/lib/flapguard"
	DefaultGracePeriod       = 3 * time.Minute
	DefaultRecoveryThreshold = 5 * time.Minute
	DefaultRateLimit         = time.Hour
	DefaultSweepInterval     = 30 * time.Second
	DefaultDeliveryTimeout   = 10 * time.Second
	DefaultHTTPPort          = 8080
)

// DefaultCriticalEvents are the event types that bypass the grace period
// when the config does not name its own set.
var DefaultCriticalEvents = []string{
	"BOTH_WANS_DOWN",
	"SELF_HEALING_FAILED",
	"CRITICAL_SERVICE_DOWN",
}

// Config is the top-level flapguard configuration.
type Config struct {
	// StateDir is the root of the persisted state layout.
	StateDir string `yaml:"state_dir"`

	// GracePeriod is how long a condition must persist before anyone is
	// notified. Transient flaps that recover inside it stay silent.
	GracePeriod time.Duration `yaml:"grace_period"`

	// RecoveryThreshold is the minimum downtime before a recovery
	// notification is worth sending.
	RecoveryThreshold time.Duration `yaml:"recovery_threshold"`

	// RateLimit is the cooldown between two sends sharing an alert key.
	RateLimit time.Duration `yaml:"rate_limit"`

	// RecoveryAlerts is the global kill-switch for recovery notifications.
	RecoveryAlerts bool `yaml:"recovery_alerts"`

	// CriticalEvents lists event types that alert immediately on first
	// occurrence, skipping the grace period.
	CriticalEvents []string `yaml:"critical_events"`

	// SweepInterval is how often the daemon runs the grace-period sweep.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DeliveryTimeout bounds a single sink call.
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`

	// HTTPPort is where the daemon serves the API, the WebSocket stream
	// and /metrics.
	HTTPPort int `yaml:"http_port"`

	// Webhooks are the notification delivery targets.
	Webhooks []Webhook `yaml:"webhooks"`

	// Probes are Prometheus-format endpoints the daemon polls to generate
	// occurrences and recoveries on its own.
	Probes []Probe `yaml:"probes"`
}

// Webhook defines one notification target.
type Webhook struct {
	// Type is one of: slack | teams | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w Webhook) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Probe describes one polled metrics endpoint.
type Probe struct {
	// ID identifies this probe; it becomes the identifier of the events
	// its rules register.
	ID string `yaml:"id"`

	// Endpoint is the full URL of the Prometheus-format metrics endpoint.
	Endpoint string `yaml:"endpoint"`

	// Interval overrides the global sweep interval for this probe's polls.
	Interval time.Duration `yaml:"interval"`

	// Auth configures how the probe authenticates to the endpoint.
	Auth Auth `yaml:"auth"`

	// Rules map metric samples to event registrations.
	Rules []ProbeRule `yaml:"rules"`
}

// ProbeRule fires an event while a metric satisfies its condition and
// registers recovery once it no longer does.
type ProbeRule struct {
	// Metric is the metric family name, e.g. "probe_success".
	Metric string `yaml:"metric"`

	// Op is one of: > | >= | < | <= | ==.
	Op string `yaml:"op"`

	// Threshold is the value the metric is compared against.
	Threshold float64 `yaml:"threshold"`

	// EventType is the event type registered while the rule fires.
	EventType string `yaml:"event_type"`

	// Message is the alert text; empty means a generated description.
	Message string `yaml:"message"`
}

// Auth specifies how a probe authenticates to its endpoint.
type Auth struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header the API key is sent in (Mode == "apikey").
	Header string `yaml:"header"`

	// KeyEnv names the environment variable holding the API key.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username is the basic-auth username; the password comes from
	// PasswordEnv.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a Auth) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token resolved from the environment.
func (a Auth) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a Auth) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// Load reads and parses the YAML config file at path, then applies
// FLAPGUARD_* environment overrides. Missing optional fields are filled
// with defaults. Load with an empty path skips the file and builds the
// config from defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		StateDir:          DefaultStateDir,
		GracePeriod:       DefaultGracePeriod,
		RecoveryThreshold: DefaultRecoveryThreshold,
		RateLimit:         DefaultRateLimit,
		RecoveryAlerts:    true,
		CriticalEvents:    append([]string(nil), DefaultCriticalEvents...),
		SweepInterval:     DefaultSweepInterval,
		DeliveryTimeout:   DefaultDeliveryTimeout,
		HTTPPort:          DefaultHTTPPort,
	}
}

// applyEnv overrides config fields from FLAPGUARD_* environment
// variables. Durations accept either a Go duration ("3m") or a bare
// number of seconds ("180").
func applyEnv(cfg *Config) {
	if v := os.Getenv("FLAPGUARD_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if d, ok := envDuration("FLAPGUARD_GRACE_PERIOD"); ok {
		cfg.GracePeriod = d
	}
	if d, ok := envDuration("FLAPGUARD_RECOVERY_THRESHOLD"); ok {
		cfg.RecoveryThreshold = d
	}
	if d, ok := envDuration("FLAPGUARD_RATE_LIMIT"); ok {
		cfg.RateLimit = d
	}
	if v := os.Getenv("FLAPGUARD_RECOVERY_ALERTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RecoveryAlerts = b
		}
	}
	if v := os.Getenv("FLAPGUARD_CRITICAL_EVENTS"); v != "" {
		var types []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		cfg.CriticalEvents = types
	}
}

func envDuration(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	return 0, false
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if cfg.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if cfg.RecoveryThreshold < 0 {
		return fmt.Errorf("recovery_threshold must not be negative")
	}
	if cfg.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	for i, wh := range cfg.Webhooks {
		switch wh.Type {
		case "slack", "teams", "pagerduty", "http":
		default:
			return fmt.Errorf("webhooks[%d]: unknown type %q", i, wh.Type)
		}
		if wh.URLEnv == "" {
			return fmt.Errorf("webhooks[%d]: url_env is required", i)
		}
	}
	for i, p := range cfg.Probes {
		if p.ID == "" {
			return fmt.Errorf("probes[%d]: id is required", i)
		}
		if p.Endpoint == "" {
			return fmt.Errorf("probes[%d] %q: endpoint is required", i, p.ID)
		}
		switch p.Auth.Mode {
		case "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("probes[%d] %q: unknown auth mode %q", i, p.ID, p.Auth.Mode)
		}
		if len(p.Rules) == 0 {
			return fmt.Errorf("probes[%d] %q: at least one rule is required", i, p.ID)
		}
		for j, r := range p.Rules {
			if r.Metric == "" {
				return fmt.Errorf("probes[%d] %q rules[%d]: metric is required", i, p.ID, j)
			}
			switch r.Op {
			case ">", ">=", "<", "<=", "==":
			default:
				return fmt.Errorf("probes[%d] %q rules[%d]: unknown op %q", i, p.ID, j, r.Op)
			}
			if r.EventType == "" {
				return fmt.Errorf("probes[%d] %q rules[%d]: event_type is required", i, p.ID, j)
			}
		}
	}
	return nil
}
