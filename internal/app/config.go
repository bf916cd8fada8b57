package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/authkeeper/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
	LogFormatOTel LogFormat = "otel"
)

// TokenStorageType represents the different storage types supported for credentials.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeMemory  TokenStorageType = "memory"
)

// keyringService is the service name credentials are filed under in the OS keyring.
const keyringService = "authkeeper"

// Default configuration values
const (
	DefaultConfigLogFormat        = LogFormatText
	DefaultConfigAPIBaseURL       = "http://localhost:3000"
	DefaultConfigAPIEndpoint      = "/trpc"
	DefaultConfigAPITimeout       = 30 * time.Second
	DefaultConfigBatchWindow      = 10 * time.Millisecond
	DefaultConfigBatchMaxSize     = 10
	DefaultConfigStorageTimeout   = 5 * time.Second
	DefaultConfigAuthStorage      = TokenStorageTypeFile
	DefaultConfigEnvAccessKey     = "AUTHKEEPER_ACCESS_TOKEN"
	DefaultConfigEnvRefreshKey    = "AUTHKEEPER_REFRESH_TOKEN"
	DefaultConfigDevServerHost    = "127.0.0.1"
	DefaultConfigDevServerPort    = 3000
	DefaultConfigShutdownTimeout  = 5 * time.Second
	defaultConfigDirName          = "authkeeper"
	defaultConfigCredentialsFile  = "credentials"
	defaultConfigCredentialsKey   = "device.key"
	defaultConfigDataDatabaseFile = "data.db"
)

// APIConfig holds backend API configuration.
type APIConfig struct {
	BaseURL  string        `json:"base_url" validate:"required,url"`
	Endpoint string        `json:"endpoint" validate:"required,startswith=/"`
	Timeout  time.Duration `json:"timeout" validate:"gte=0"`
}

// BatchConfig controls how procedure calls are coalesced.
type BatchConfig struct {
	// Window is how long the first call of a batch waits for others to join.
	// An explicit zero only coalesces calls issued in the same instant; unset means the default.
	Window  *time.Duration `json:"window" validate:"omitempty,gte=0"`
	MaxSize int            `json:"max_size" validate:"gte=1"`
}

// AuthConfig describes where credentials are persisted.
type AuthConfig struct {
	Storage TokenStorageType `json:"storage" validate:"required,oneof=file env keyring memory"`

	// Storage-specific settings (mutually exclusive based on Storage type)
	File          string `json:"file,omitempty"`            // For file storage: encrypted credentials file
	KeyFile       string `json:"key_file,omitempty"`        // For file storage: device key file
	KeyringUser   string `json:"keyring_user,omitempty"`    // For keyring storage: user identifier
	EnvAccessKey  string `json:"env_access_key,omitempty"`  // For env storage: access token variable
	EnvRefreshKey string `json:"env_refresh_key,omitempty"` // For env storage: refresh token variable
}

// NewTokenStore creates a TokenStore from the authentication configuration.
func (a *AuthConfig) NewTokenStore() (tokenstore.TokenStore, error) {
	switch a.Storage {
	case TokenStorageTypeFile:
		return tokenstore.NewFileStore(a.File, a.KeyFile)
	case TokenStorageTypeEnv:
		return tokenstore.NewEnvStore(a.EnvAccessKey, a.EnvRefreshKey)
	case TokenStorageTypeKeyring:
		return tokenstore.NewKeyringStore(keyringService, a.KeyringUser)
	case TokenStorageTypeMemory:
		return tokenstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// DataConfig holds the application data database location.
type DataConfig struct {
	Path string `json:"path" validate:"required"`
}

// SessionConfig holds session state machine settings.
type SessionConfig struct {
	// StorageTimeout bounds each credential store call made during a transition.
	StorageTimeout time.Duration `json:"storage_timeout" validate:"gte=0"`
}

// DevServerConfig holds development backend configuration.
type DevServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
	// Secret signs issued tokens. Empty generates one per run.
	Secret string `json:"secret,omitempty"`
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel     slog.Level      `json:"log_level"`
	LogFormat    LogFormat       `json:"log_format" validate:"oneof=text json otel"`
	OTLPProtocol string          `json:"otlp_protocol" validate:"omitempty,oneof=grpc http"`
	API          APIConfig       `json:"api"`
	Batch        BatchConfig     `json:"batch"`
	Auth         AuthConfig      `json:"auth"`
	Data         DataConfig      `json:"data"`
	Session      SessionConfig   `json:"session"`
	DevServer    DevServerConfig `json:"devserver"`
	Shutdown     ShutdownConfig  `json:"shutdown"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultConfigAPIBaseURL
	}
	if c.API.Endpoint == "" {
		c.API.Endpoint = DefaultConfigAPIEndpoint
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultConfigAPITimeout
	}
	if c.Batch.Window == nil {
		window := DefaultConfigBatchWindow
		c.Batch.Window = &window
	}
	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = DefaultConfigBatchMaxSize
	}
	if c.Session.StorageTimeout == 0 {
		c.Session.StorageTimeout = DefaultConfigStorageTimeout
	}
	if c.Auth.Storage == "" {
		c.Auth.Storage = DefaultConfigAuthStorage
	}
	if c.DevServer.Host == "" {
		c.DevServer.Host = DefaultConfigDevServerHost
	}
	if c.DevServer.Port == 0 {
		c.DevServer.Port = DefaultConfigDevServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}

	// Paths under the user config dir are only resolved when actually needed
	needsFile := c.Auth.Storage == TokenStorageTypeFile && (c.Auth.File == "" || c.Auth.KeyFile == "")
	if needsFile || c.Data.Path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("auth.file and data.path required (auto-detect failed: %w)", err)
		}
		base := filepath.Join(configDir, defaultConfigDirName)
		if c.Data.Path == "" {
			c.Data.Path = filepath.Join(base, defaultConfigDataDatabaseFile)
		}
		if c.Auth.Storage == TokenStorageTypeFile {
			if c.Auth.File == "" {
				c.Auth.File = filepath.Join(base, defaultConfigCredentialsFile)
			}
			if c.Auth.KeyFile == "" {
				c.Auth.KeyFile = filepath.Join(base, defaultConfigCredentialsKey)
			}
		}
	}

	// Dynamic defaults based on storage type
	switch c.Auth.Storage {
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("auth.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Auth.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvAccessKey == "" {
			c.Auth.EnvAccessKey = DefaultConfigEnvAccessKey
		}
		if c.Auth.EnvRefreshKey == "" {
			c.Auth.EnvRefreshKey = DefaultConfigEnvRefreshKey
		}
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.OTLPProtocol != "" && c.LogFormat != LogFormatOTel {
		return errors.New("otlp_protocol requires log_format otel")
	}

	switch c.Auth.Storage {
	case TokenStorageTypeFile:
		if c.Auth.File == "" || c.Auth.KeyFile == "" {
			return errors.New("file and key_file required for file storage")
		}
		if filepath.Clean(c.Auth.File) == filepath.Clean(c.Auth.KeyFile) {
			return errors.New("auth.file and auth.key_file must differ")
		}
	case TokenStorageTypeEnv:
		if c.Auth.EnvAccessKey == "" || c.Auth.EnvRefreshKey == "" {
			return errors.New("env_access_key and env_refresh_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	}

	return nil
}
