// Package config loads the tradecast YAML configuration, the per-target
// settings table, and the credential environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Duration wraps time.Duration so YAML scalars like "25s" parse naturally.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for tradecast.
type Config struct {
	Logging Logging      `yaml:"logging"`
	Engine  EngineConfig `yaml:"engine"`
	Session Session      `yaml:"session"`
	Journal Journal      `yaml:"journal"`
	Live    Live         `yaml:"live"`

	// Targets overrides or extends the built-in target table, keyed by
	// target display name.
	Targets map[string]TargetSettings `yaml:"targets"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds batch-processor parameters.
type EngineConfig struct {
	BatchSize       int      `yaml:"batch_size"`
	ValidateTimeout Duration `yaml:"validate_timeout"`
	ExecuteTimeout  Duration `yaml:"execute_timeout"`
}

// Session holds session-acquisition parameters.
type Session struct {
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBaseWait Duration `yaml:"retry_base_wait"`
}

// Journal configures the optional outcome journal. An empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// Live configures the optional websocket status feed. An empty address
// disables it.
type Live struct {
	Addr string `yaml:"addr"`
}

// TargetSettings describes one brokerage target: its API rate ceiling, the
// execution timeout (browser-automation targets need a longer one), and the
// environment variables that must be present for credentials.
type TargetSettings struct {
	RequestsPerSec float64  `yaml:"requests_per_sec"`
	ExecuteTimeout Duration `yaml:"execute_timeout"`
	EnvVars        []string `yaml:"env_vars"`
	Disabled       bool     `yaml:"disabled"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	// DefaultRequestsPerSec throttles targets missing from the table.
	DefaultRequestsPerSec = 10.0

	// DefaultExecuteTimeout bounds one target's execution attempt.
	DefaultExecuteTimeout = 25 * time.Second

	// SlowExecuteTimeout is for browser-automation-backed targets.
	SlowExecuteTimeout = 45 * time.Second

	// DefaultValidateTimeout bounds one target's pre-flight check.
	DefaultValidateTimeout = 15 * time.Second

	// DefaultBatchSize groups orders for sequential batch processing.
	DefaultBatchSize = 5
)

// DefaultTargets is the built-in brokerage table: conservative per-target
// API rate ceilings and the credential env vars each target needs.
func DefaultTargets() map[string]TargetSettings {
	return map[string]TargetSettings{
		"Robinhood":  {RequestsPerSec: 5, EnvVars: []string{"ROBINHOOD_USER", "ROBINHOOD_PASS", "ROBINHOOD_MFA"}},
		"Tradier":    {RequestsPerSec: 2, EnvVars: []string{"TRADIER_ACCESS_TOKEN"}},
		"TastyTrade": {RequestsPerSec: 10, EnvVars: []string{"TASTY_USER", "TASTY_PASS"}},
		"Public":     {RequestsPerSec: 20, EnvVars: []string{"PUBLIC_API_SECRET"}},
		"Firstrade":  {RequestsPerSec: 5, EnvVars: []string{"FIRSTRADE_USER", "FIRSTRADE_PASS", "FIRSTRADE_MFA"}},
		"Fennel":     {RequestsPerSec: 10, EnvVars: []string{"FENNEL_ACCESS_TOKEN"}},
		"Schwab":     {RequestsPerSec: 5, EnvVars: []string{"SCHWAB_API_KEY", "SCHWAB_API_SECRET", "SCHWAB_CALLBACK_URL", "SCHWAB_TOKEN_PATH"}},
		"BBAE":       {RequestsPerSec: 5, EnvVars: []string{"BBAE_USER", "BBAE_PASS"}},
		"DSPAC":      {RequestsPerSec: 5, EnvVars: []string{"DSPAC_USER", "DSPAC_PASS"}},
		"SoFi":       {RequestsPerSec: 5, ExecuteTimeout: Duration(SlowExecuteTimeout), EnvVars: []string{"SOFI_USER", "SOFI_PASS"}},
		"Webull":     {RequestsPerSec: 5, EnvVars: []string{"WEBULL_ACCESS_TOKEN", "WEBULL_REFRESH_TOKEN", "WEBULL_UUID", "WEBULL_ACCOUNT_ID", "WEBULL_DID"}},
		"WellsFargo": {RequestsPerSec: 5, ExecuteTimeout: Duration(SlowExecuteTimeout), EnvVars: []string{"WELLSFARGO_USER", "WELLSFARGO_PASS"}},
		"Chase":      {RequestsPerSec: 5, ExecuteTimeout: Duration(SlowExecuteTimeout), EnvVars: []string{"CHASE_USER", "CHASE_PASS"}},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, merges the built-in target
// table underneath it, applies environment overrides, and fills defaults.
// An empty path yields the pure-default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	mergeDefaultTargets(cfg)
	applyEnvOverrides(cfg)
	fillDefaults(cfg)

	return cfg, nil
}

// LoadEnv loads credential variables from a .env file into the process
// environment. A missing file is not an error: credentials may come from the
// real environment instead.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// HasCredentials reports whether every env var the target requires is set
// and non-empty. A target with no declared env vars counts as credentialed.
func (c *Config) HasCredentials(target string) bool {
	ts, ok := c.Targets[target]
	if !ok || ts.Disabled {
		return false
	}
	for _, key := range ts.EnvVars {
		if os.Getenv(key) == "" {
			return false
		}
	}
	return true
}

// RateTable returns the per-target requests/sec map for the rate limiter.
func (c *Config) RateTable() map[string]float64 {
	out := make(map[string]float64, len(c.Targets))
	for name, ts := range c.Targets {
		if ts.RequestsPerSec > 0 {
			out[name] = ts.RequestsPerSec
		}
	}
	return out
}

// ExecuteTimeouts returns the per-target execution timeout overrides; targets
// absent from the map use the engine default.
func (c *Config) ExecuteTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for name, ts := range c.Targets {
		if ts.ExecuteTimeout > 0 {
			out[name] = ts.ExecuteTimeout.Std()
		}
	}
	return out
}

// mergeDefaultTargets layers the built-in table under any user-provided
// targets. User entries win field-by-field only where they set a value.
func mergeDefaultTargets(cfg *Config) {
	defaults := DefaultTargets()
	if cfg.Targets == nil {
		cfg.Targets = defaults
		return
	}
	for name, def := range defaults {
		user, ok := cfg.Targets[name]
		if !ok {
			cfg.Targets[name] = def
			continue
		}
		if user.RequestsPerSec == 0 {
			user.RequestsPerSec = def.RequestsPerSec
		}
		if user.ExecuteTimeout == 0 {
			user.ExecuteTimeout = def.ExecuteTimeout
		}
		if user.EnvVars == nil {
			user.EnvVars = def.EnvVars
		}
		cfg.Targets[name] = user
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRADECAST_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("TRADECAST_LIVE_ADDR"); v != "" {
		cfg.Live.Addr = v
	}
}

func fillDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Engine.BatchSize <= 0 {
		cfg.Engine.BatchSize = DefaultBatchSize
	}
	if cfg.Engine.ValidateTimeout <= 0 {
		cfg.Engine.ValidateTimeout = Duration(DefaultValidateTimeout)
	}
	if cfg.Engine.ExecuteTimeout <= 0 {
		cfg.Engine.ExecuteTimeout = Duration(DefaultExecuteTimeout)
	}
	if cfg.Session.RetryAttempts <= 0 {
		cfg.Session.RetryAttempts = 3
	}
	if cfg.Session.RetryBaseWait <= 0 {
		cfg.Session.RetryBaseWait = Duration(time.Second)
	}
}
