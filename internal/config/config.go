package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultName     = "Babel Gas"
	DefaultEndpoint = "https://wp.babel-group.cn/pay/query-dept"

	legacyPlatform = "babel_gas"

	tickHeadroom = 5 * time.Second
)

var (
	ErrMissingToken    = errors.New("account token is required")
	ErrMissingMemberID = errors.New("account member_id is required")
)

// Config holds all configuration for our application
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Polling  PollingConfig    `mapstructure:"polling"`
	Accounts []AccountConfig  `mapstructure:"accounts"`
	Sensor   []PlatformConfig `mapstructure:"sensor"`
	Logging  LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	GRPCPort       int      `mapstructure:"grpc_port"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	CacheSize      int      `mapstructure:"cache_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PollingConfig struct {
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Endpoint       string        `mapstructure:"endpoint"`
}

// AccountConfig is one configured gas account; it plays the role of a config entry.
type AccountConfig struct {
	Name     string `mapstructure:"name" json:"name"`
	Token    string `mapstructure:"token" json:"token"`
	MemberID string `mapstructure:"member_id" json:"member_id"`
}

// PlatformConfig is a legacy sensor platform block.
type PlatformConfig struct {
	Platform string `mapstructure:"platform"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadDotEnv loads KEY=VALUE files into the process environment so they can
// be referenced from the config file. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &rawConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
		}
	}

	// Expand environment variables inside string values only, so an
	// expanded value keeps the string type it had in the file.
	expanded := expandEnv(rawConfig)

	// Convert the map to YAML again
	data, err = yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range config.Accounts {
		if err := config.Accounts[i].Normalize(); err != nil {
			return nil, fmt.Errorf("accounts[%d]: %w", i, err)
		}
	}

	return &config, nil
}

// Normalize trims the account fields, fills the default name and validates
// the credentials.
func (a *AccountConfig) Normalize() error {
	a.Name = strings.TrimSpace(a.Name)
	a.Token = strings.TrimSpace(a.Token)
	a.MemberID = strings.TrimSpace(a.MemberID)
	if a.Name == "" {
		a.Name = DefaultName
	}
	if a.Token == "" {
		return ErrMissingToken
	}
	if a.MemberID == "" {
		return ErrMissingMemberID
	}
	return nil
}

// LegacyPlatforms counts sensor blocks that use the deprecated platform setup.
func (c *Config) LegacyPlatforms() int {
	n := 0
	for _, p := range c.Sensor {
		if p.Platform == legacyPlatform {
			n++
		}
	}
	return n
}

// expandEnv replaces ${VAR} references in every string of a decoded
// yaml or toml document.
func expandEnv(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return os.ExpandEnv(t)
	case map[string]interface{}:
		for k, val := range t {
			t[k] = expandEnv(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = expandEnv(val)
		}
		return t
	case []map[string]interface{}:
		for i, val := range t {
			t[i] = expandEnv(val).(map[string]interface{})
		}
		return t
	default:
		return v
	}
}

// TickTimeout bounds one scheduler tick. It leaves headroom over
// RequestTimeout so the client's own timeout fires first.
func (p PollingConfig) TickTimeout() time.Duration {
	return p.RequestTimeout + tickHeadroom
}

// Address returns the state API listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.cache_size", 128)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("polling.scan_interval", "30m")
	v.SetDefault("polling.min_interval", "30m")
	v.SetDefault("polling.request_timeout", "10s")
	v.SetDefault("polling.endpoint", DefaultEndpoint)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
