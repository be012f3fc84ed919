package shared

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Relay       RelayConfig       `toml:"relay"`
	Storage     StorageConfig     `toml:"storage"`
	Database    DatabaseConfig    `toml:"database"`
	Session     SessionConfig     `toml:"session"`
	Native      NativeConfig      `toml:"native"`
	API         APIConfig         `toml:"api"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	Scopes       []string `toml:"scopes"`
}

// RelayConfig locates the token exchange relay for clients and configures it when served.
type RelayConfig struct {
	URL       string `toml:"url"`
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	RateLimit int    `toml:"rate_limit"`
}

// Addr returns the listen address for the relay server.
func (c RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects where the current token is persisted.
type StorageConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	Secret string `toml:"secret"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SessionConfig tunes the token coordinator.
type SessionConfig struct {
	ResultTimeout    time.Duration `toml:"result_timeout"`
	MinRenewInterval time.Duration `toml:"min_renew_interval"`
	Strategies       []string      `toml:"strategies"`
}

// NativeConfig names the desktop app used for the native handoff.
type NativeConfig struct {
	Launcher string `toml:"launcher"`
}

// APIConfig contains Web API client settings.
type APIConfig struct {
	BaseURL   string        `toml:"base_url"`
	Timeout   time.Duration `toml:"timeout"`
	RateLimit float64       `toml:"rate_limit"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig encodes config as TOML and writes it to path.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ResolveConfig loads path when it exists, falls back to defaults otherwise, and applies the environment overlay.
//
// A .env file in the working directory is loaded first if present.
func ResolveConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	ApplyEnv(config)
	return config, nil
}

// ApplyEnv overrides config values with SPTOKEN_* environment variables.
func ApplyEnv(config *Config) {
	config.Credentials.Spotify.ClientID = getEnv("SPTOKEN_CLIENT_ID", config.Credentials.Spotify.ClientID)
	config.Credentials.Spotify.ClientSecret = getEnv("SPTOKEN_CLIENT_SECRET", config.Credentials.Spotify.ClientSecret)
	config.Credentials.Spotify.RedirectURI = getEnv("SPTOKEN_REDIRECT_URI", config.Credentials.Spotify.RedirectURI)
	if scopes := os.Getenv("SPTOKEN_SCOPES"); scopes != "" {
		config.Credentials.Spotify.Scopes = strings.Fields(strings.ReplaceAll(scopes, ",", " "))
	}

	config.Relay.URL = getEnv("SPTOKEN_RELAY_URL", config.Relay.URL)
	config.Relay.Host = getEnv("SPTOKEN_RELAY_HOST", config.Relay.Host)
	config.Relay.Port = getEnvInt("SPTOKEN_RELAY_PORT", config.Relay.Port)

	config.Storage.Driver = getEnv("SPTOKEN_STORAGE_DRIVER", config.Storage.Driver)
	config.Storage.Path = getEnv("SPTOKEN_STORAGE_PATH", config.Storage.Path)
	config.Storage.Secret = getEnv("SPTOKEN_STORAGE_SECRET", config.Storage.Secret)
	config.Database.Path = getEnv("SPTOKEN_DATABASE_PATH", config.Database.Path)

	config.Session.ResultTimeout = getEnvDuration("SPTOKEN_RESULT_TIMEOUT", config.Session.ResultTimeout)
	config.Native.Launcher = getEnv("SPTOKEN_NATIVE_LAUNCHER", config.Native.Launcher)
	config.API.BaseURL = getEnv("SPTOKEN_API_BASE_URL", config.API.BaseURL)
	config.Log.Level = getEnv("SPTOKEN_LOG_LEVEL", config.Log.Level)
}

// Validate reports missing client credentials.
//
// The client secret is only required when serving the relay.
func (c *Config) Validate(relay bool) error {
	if c.Credentials.Spotify.ClientID == "" {
		return fmt.Errorf("%w: client_id", ErrMissingCredentials)
	}
	if c.Credentials.Spotify.RedirectURI == "" {
		return fmt.Errorf("%w: redirect_uri", ErrMissingCredentials)
	}
	if relay && c.Credentials.Spotify.ClientSecret == "" {
		return fmt.Errorf("%w: client_secret (set SPTOKEN_CLIENT_SECRET)", ErrMissingCredentials)
	}
	return nil
}

// GetConfig returns a value with priority: flag > env > fallback.
func GetConfig(flagValue, envKey, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, fallback)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
