package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "gomint"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GOMINT_"
	// configFileName is the persisted configuration file.
	configFileName = "config.yaml"

	DefaultHTTPAddress  = ":8080"
	DefaultWSPath       = "/ws"
	DefaultMetricsPath  = "/metrics"
	DefaultDatabaseFile = "gomint.db"
	DefaultLogLevel     = "info"
)

type ServerConfig struct {
	HTTPAddress    string   `yaml:"http_address"`
	WSPath         string   `yaml:"ws_path"`
	MetricsPath    string   `yaml:"metrics_path"`
	TCPAddress     string   `yaml:"tcp_address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret           string `yaml:"jwt_secret"`
	AllowUnsignedWallet bool   `yaml:"allow_unsigned_wallet"`
	AutoRegister        bool   `yaml:"auto_register"`
	ChallengePrefix     string `yaml:"challenge_prefix"`
}

type StorageConfig struct {
	DatabaseFile string `yaml:"database_file"`
	// SecurityEventRetention bounds how long security events are kept.
	SecurityEventRetention time.Duration `yaml:"security_event_retention"`
}

type LimitsConfig struct {
	EventsPerSecond           float64       `yaml:"events_per_second"`
	EventBurst                int           `yaml:"event_burst"`
	ConnectionsPerIP          int           `yaml:"connections_per_ip"`
	ConnectionRateLimitWindow time.Duration `yaml:"connection_window"`
	SendQueueSize             int           `yaml:"send_queue_size"`
	MaxFrameSize              int           `yaml:"max_frame_size"`
}

type KeepAliveConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

type IdentityConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type DiscoveryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	InstanceName string `yaml:"instance_name"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type InternalConfig struct {
	// ServiceToken guards the internal ingest endpoints. Empty disables them.
	ServiceToken string `yaml:"service_token"`
}

// Config is the persisted server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Limits    LimitsConfig    `yaml:"limits"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Identity  IdentityConfig  `yaml:"identity"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Log       LogConfig       `yaml:"log"`
	Internal  InternalConfig  `yaml:"internal"`

	// DataDir is resolved at load time and never persisted.
	DataDir string `yaml:"-"`
}

// DatabasePath returns the absolute SQLite path.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Storage.DatabaseFile) {
		return c.Storage.DatabaseFile
	}
	return filepath.Join(c.DataDir, c.Storage.DatabaseFile)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If GOMINT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvPrefix + "DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk.
func Save(path string, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns the
// config with environment overrides applied, and its path.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	return LoadOrCreateIn(dataDir)
}

// LoadOrCreateIn is LoadOrCreate for an explicit data directory.
func LoadOrCreateIn(dataDir string) (*Config, string, error) {
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = &Config{}
		normalizeDefaults(cfg)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	} else if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	// Overrides apply to the running process only; the file keeps its values.
	if err := applyEnv(cfg); err != nil {
		return nil, "", err
	}
	cfg.DataDir = dataDir

	return cfg, cfgPath, nil
}

// normalizeDefaults fills missing fields and reports whether anything changed.
func normalizeDefaults(cfg *Config) bool {
	updated := false
	setString := func(field *string, value string) {
		if strings.TrimSpace(*field) == "" {
			*field = value
			updated = true
		}
	}
	setInt := func(field *int, value int) {
		if *field <= 0 {
			*field = value
			updated = true
		}
	}
	setDuration := func(field *time.Duration, value time.Duration) {
		if *field <= 0 {
			*field = value
			updated = true
		}
	}

	setString(&cfg.Server.HTTPAddress, DefaultHTTPAddress)
	setString(&cfg.Server.WSPath, DefaultWSPath)
	setString(&cfg.Server.MetricsPath, DefaultMetricsPath)

	setString(&cfg.Auth.JWTSecret, strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""))
	setString(&cfg.Auth.ChallengePrefix, "gomint-auth:")

	setString(&cfg.Storage.DatabaseFile, DefaultDatabaseFile)
	setDuration(&cfg.Storage.SecurityEventRetention, 30*24*time.Hour)

	if cfg.Limits.EventsPerSecond <= 0 {
		cfg.Limits.EventsPerSecond = 20
		updated = true
	}
	setInt(&cfg.Limits.EventBurst, 40)
	setInt(&cfg.Limits.ConnectionsPerIP, 30)
	setDuration(&cfg.Limits.ConnectionRateLimitWindow, time.Minute)
	setInt(&cfg.Limits.SendQueueSize, 256)
	setInt(&cfg.Limits.MaxFrameSize, 1<<20)

	setDuration(&cfg.KeepAlive.Interval, 30*time.Second)
	setDuration(&cfg.KeepAlive.Timeout, 15*time.Second)
	setDuration(&cfg.KeepAlive.ConnectionTimeout, 30*time.Second)

	setInt(&cfg.Identity.CacheSize, 4096)
	setDuration(&cfg.Identity.CacheTTL, 5*time.Minute)

	setString(&cfg.Discovery.InstanceName, defaultInstanceName())
	setString(&cfg.Log.Level, DefaultLogLevel)

	return updated
}

func defaultInstanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return "gomint-" + host
	}
	return "gomint"
}

type override struct {
	name  string
	apply func(value string) error
}

func overrides(cfg *Config) []override {
	str := func(field *string) func(string) error {
		return func(v string) error { *field = v; return nil }
	}
	boolean := func(field *bool) func(string) error {
		return func(v string) error {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*field = parsed
			return nil
		}
	}
	integer := func(field *int) func(string) error {
		return func(v string) error {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*field = parsed
			return nil
		}
	}
	float := func(field *float64) func(string) error {
		return func(v string) error {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*field = parsed
			return nil
		}
	}
	duration := func(field *time.Duration) func(string) error {
		return func(v string) error {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*field = parsed
			return nil
		}
	}
	list := func(field *[]string) func(string) error {
		return func(v string) error {
			parts := strings.Split(v, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			*field = out
			return nil
		}
	}

	return []override{
		{"HTTP_ADDRESS", str(&cfg.Server.HTTPAddress)},
		{"WS_PATH", str(&cfg.Server.WSPath)},
		{"METRICS_PATH", str(&cfg.Server.MetricsPath)},
		{"TCP_ADDRESS", str(&cfg.Server.TCPAddress)},
		{"ALLOWED_ORIGINS", list(&cfg.Server.AllowedOrigins)},
		{"JWT_SECRET", str(&cfg.Auth.JWTSecret)},
		{"ALLOW_UNSIGNED_WALLET", boolean(&cfg.Auth.AllowUnsignedWallet)},
		{"AUTO_REGISTER", boolean(&cfg.Auth.AutoRegister)},
		{"CHALLENGE_PREFIX", str(&cfg.Auth.ChallengePrefix)},
		{"DATABASE_FILE", str(&cfg.Storage.DatabaseFile)},
		{"SECURITY_EVENT_RETENTION", duration(&cfg.Storage.SecurityEventRetention)},
		{"EVENTS_PER_SECOND", float(&cfg.Limits.EventsPerSecond)},
		{"EVENT_BURST", integer(&cfg.Limits.EventBurst)},
		{"CONNECTIONS_PER_IP", integer(&cfg.Limits.ConnectionsPerIP)},
		{"CONNECTION_WINDOW", duration(&cfg.Limits.ConnectionRateLimitWindow)},
		{"SEND_QUEUE_SIZE", integer(&cfg.Limits.SendQueueSize)},
		{"MAX_FRAME_SIZE", integer(&cfg.Limits.MaxFrameSize)},
		{"KEEPALIVE_INTERVAL", duration(&cfg.KeepAlive.Interval)},
		{"KEEPALIVE_TIMEOUT", duration(&cfg.KeepAlive.Timeout)},
		{"CONNECTION_TIMEOUT", duration(&cfg.KeepAlive.ConnectionTimeout)},
		{"IDENTITY_CACHE_SIZE", integer(&cfg.Identity.CacheSize)},
		{"IDENTITY_CACHE_TTL", duration(&cfg.Identity.CacheTTL)},
		{"DISCOVERY_ENABLED", boolean(&cfg.Discovery.Enabled)},
		{"DISCOVERY_INSTANCE", str(&cfg.Discovery.InstanceName)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"LOG_DEVELOPMENT", boolean(&cfg.Log.Development)},
		{"SERVICE_TOKEN", str(&cfg.Internal.ServiceToken)},
	}
}

func applyEnv(cfg *Config) error {
	for _, o := range overrides(cfg) {
		value, ok := os.LookupEnv(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, o.name, err)
		}
	}
	return nil
}
