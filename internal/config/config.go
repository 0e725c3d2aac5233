// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Fetch() FetchConfig
	Walker() WalkerConfig
	Engine() EngineConfig
	Storage() StorageConfig
	Signals() SignalsConfig

	// Walker Setters
	SetWalkerMaxItems(int)
	SetWalkerMaxDuration(time.Duration)

	// Engine Setters
	SetEngineMaxSessions(int)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	FetchCfg    FetchConfig    `mapstructure:"fetch" yaml:"fetch"`
	WalkerCfg   WalkerConfig   `mapstructure:"walker" yaml:"walker"`
	EngineCfg   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	StorageCfg  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	SignalsCfg  SignalsConfig  `mapstructure:"signals" yaml:"signals"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Fetch() FetchConfig       { return c.FetchCfg }
func (c *Config) Walker() WalkerConfig     { return c.WalkerCfg }
func (c *Config) Engine() EngineConfig     { return c.EngineCfg }
func (c *Config) Storage() StorageConfig   { return c.StorageCfg }
func (c *Config) Signals() SignalsConfig   { return c.SignalsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetWalkerMaxItems(n int)              { c.WalkerCfg.MaxItems = n }
func (c *Config) SetWalkerMaxDuration(d time.Duration) { c.WalkerCfg.MaxDuration = d }
func (c *Config) SetEngineMaxSessions(n int)           { c.EngineCfg.MaxSessions = n }
func (c *Config) SetBrowserHeadless(b bool)            { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	MaxConns       int32         `mapstructure:"max_conns" yaml:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	ActionTimeout   time.Duration  `mapstructure:"action_timeout" yaml:"action_timeout"`
	NavTimeout      time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Persona         PersonaConfig  `mapstructure:"persona" yaml:"persona"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// PersonaConfig is the browser identity presented to the platform.
type PersonaConfig struct {
	UserAgents     []string `mapstructure:"user_agents" yaml:"user_agents"`
	Platform       string   `mapstructure:"platform" yaml:"platform"`
	Locale         string   `mapstructure:"locale" yaml:"locale"`
	Timezone       string   `mapstructure:"timezone" yaml:"timezone"`
	AcceptLanguage string   `mapstructure:"accept_language" yaml:"accept_language"`
}

// FetchConfig tunes the media downloader.
type FetchConfig struct {
	Timeout     time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts int               `mapstructure:"max_attempts" yaml:"max_attempts"`
	RateLimit   float64           `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst       int               `mapstructure:"burst" yaml:"burst"`
	Headers     map[string]string `mapstructure:"headers" yaml:"headers"`
}

// WalkerConfig bounds a single session.
type WalkerConfig struct {
	MaxItems          int           `mapstructure:"max_items" yaml:"max_items"`
	MaxDuration       time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	MaxFailures       int           `mapstructure:"max_failures" yaml:"max_failures"`
	MaxSameItem       int           `mapstructure:"max_same_item" yaml:"max_same_item"`
	MaxSkips          int           `mapstructure:"max_skips" yaml:"max_skips"`
	SettleInterval    time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
	VideoSettle       time.Duration `mapstructure:"video_settle" yaml:"video_settle"`
	LoadTimeout       time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	Diagnostics       bool          `mapstructure:"diagnostics" yaml:"diagnostics"`
	StopAtLatest      bool          `mapstructure:"stop_at_latest" yaml:"stop_at_latest"`
	SessionCollection string        `mapstructure:"session_collection" yaml:"session_collection"`
}

// EngineConfig configures the multi target runner.
type EngineConfig struct {
	MaxSessions    int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	StartRate      float64       `mapstructure:"start_rate" yaml:"start_rate"`
	MaxRestarts    int           `mapstructure:"max_restarts" yaml:"max_restarts"`
	EnoughItems    int           `mapstructure:"enough_items" yaml:"enough_items"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" yaml:"session_timeout"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"`
	Dir            string `mapstructure:"dir" yaml:"dir"`
	DiagnosticsDir string `mapstructure:"diagnostics_dir" yaml:"diagnostics_dir"`
}

// SignalsConfig points at an optional override file for platform signal profiles.
type SignalsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "feedwalker")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.connect_timeout", "10s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 900})
	v.SetDefault("browser.action_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.locale", "en-US")
	v.SetDefault("browser.persona.timezone", "America/New_York")
	v.SetDefault("browser.persona.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.persona.user_agents", defaultUserAgents)
	setHumanoidDefaults(v)

	// -- Fetch --
	v.SetDefault("fetch.timeout", "10s")
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.rate_limit", 4.0)
	v.SetDefault("fetch.burst", 2)

	// -- Walker --
	v.SetDefault("walker.max_items", 50)
	v.SetDefault("walker.max_duration", "2m")
	v.SetDefault("walker.max_failures", 3)
	v.SetDefault("walker.max_same_item", 3)
	v.SetDefault("walker.max_skips", 10)
	v.SetDefault("walker.settle_interval", "2s")
	v.SetDefault("walker.video_settle", "1s")
	v.SetDefault("walker.load_timeout", "10s")
	v.SetDefault("walker.diagnostics", false)
	v.SetDefault("walker.stop_at_latest", true)
	v.SetDefault("walker.session_collection", "sessions")

	// -- Engine --
	v.SetDefault("engine.max_sessions", 4)
	v.SetDefault("engine.start_rate", 0.5)
	v.SetDefault("engine.max_restarts", 3)
	v.SetDefault("engine.enough_items", 5)
	v.SetDefault("engine.session_timeout", "5m")

	// -- Storage --
	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.dir", "feedwalker-data")
	v.SetDefault("storage.diagnostics_dir", "feedwalker-data/diagnostics")
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The DSN usually carries a password, so it is expected from the environment.
	_ = v.BindEnv("database.url", "FEEDWALKER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.WalkerCfg.Validate(); err != nil {
		return fmt.Errorf("walker configuration invalid: %w", err)
	}
	if c.EngineCfg.MaxSessions <= 0 {
		return fmt.Errorf("engine.max_sessions must be a positive integer")
	}
	if c.EngineCfg.MaxRestarts < 0 {
		return fmt.Errorf("engine.max_restarts must not be negative")
	}
	if c.FetchCfg.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be a positive integer")
	}
	switch c.StorageCfg.Backend {
	case "filesystem":
		if c.StorageCfg.Dir == "" {
			return fmt.Errorf("storage.dir is required for the filesystem backend")
		}
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of filesystem, postgres (got %q)", c.StorageCfg.Backend)
	}
	return nil
}

// Validate checks the session bounds.
func (w *WalkerConfig) Validate() error {
	if w.MaxItems <= 0 {
		return fmt.Errorf("max_items must be a positive integer")
	}
	if w.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be a positive duration")
	}
	if w.MaxFailures <= 0 {
		return fmt.Errorf("max_failures must be a positive integer")
	}
	if w.MaxSameItem <= 0 {
		return fmt.Errorf("max_same_item must be a positive integer")
	}
	return nil
}
