package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kvthweatt/USB-Monitor/internal/logger"
	"github.com/kvthweatt/USB-Monitor/internal/notify"
	"github.com/kvthweatt/USB-Monitor/internal/policy"
)

const (
	EnvServerHost            = "USBMON_SERVER_HOST"
	EnvServerPort            = "USBMON_SERVER_PORT"
	EnvServerReadTimeoutSec  = "USBMON_SERVER_READ_TIMEOUT_SEC"
	EnvServerWriteTimeoutSec = "USBMON_SERVER_WRITE_TIMEOUT_SEC"
	EnvServerIdleTimeoutSec  = "USBMON_SERVER_IDLE_TIMEOUT_SEC"
	EnvTLSEnabled            = "USBMON_TLS_ENABLED"
	EnvTLSCertFile           = "USBMON_TLS_CERT_FILE"
	EnvTLSKeyFile            = "USBMON_TLS_KEY_FILE"
	EnvTLSClientCAFile       = "USBMON_TLS_CLIENT_CA_FILE"
	EnvTLSRequireClientCert  = "USBMON_TLS_REQUIRE_CLIENT_CERT"
	EnvTLSMinVersion         = "USBMON_TLS_MIN_VERSION"
	EnvSecurityConfig        = "USBMON_SECURITY_CONFIG"
	EnvSecurityWatch         = "USBMON_SECURITY_WATCH"
	EnvSecurityLevel         = "USBMON_SECURITY_LEVEL"
	EnvTrustedCertificates   = "USBMON_TRUSTED_CERTIFICATES"
	EnvPromptTerminal        = "USBMON_PROMPT_TERMINAL"
	EnvNATSURL               = "USBMON_NATS_URL"
	EnvNATSSubjectPrefix     = "USBMON_NATS_SUBJECT_PREFIX"

	MinPortNumber = 1
	MaxPortNumber = 65535
	TLSVersion12  = "1.2"
	TLSVersion13  = "1.3"
)

var ErrInvalidConfig = errors.New("invalid config")

// TLSConfig holds TLS settings for the control API.
type TLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
	MinVersion        string `yaml:"min_version"`
}

type ServerConfig struct {
	Host            string    `yaml:"host"`
	Port            int       `yaml:"port"`
	ReadTimeoutSec  int       `yaml:"read_timeout_sec"`
	WriteTimeoutSec int       `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int       `yaml:"idle_timeout_sec"`
	TLS             TLSConfig `yaml:"tls"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s ServerConfig) ReadTimeout() time.Duration { return time.Duration(s.ReadTimeoutSec) * time.Second }
func (s ServerConfig) WriteTimeout() time.Duration { return time.Duration(s.WriteTimeoutSec) * time.Second }
func (s ServerConfig) IdleTimeout() time.Duration { return time.Duration(s.IdleTimeoutSec) * time.Second }

// SecurityConfig locates the JSON security config and the trust anchors
// loaded at startup.
type SecurityConfig struct {
	ConfigPath          string   `yaml:"config_path"`
	Watch               bool     `yaml:"watch"`
	Level               string   `yaml:"level"`
	TrustedCertificates []string `yaml:"trusted_certificates"`
}

type PromptConfig struct {
	Terminal bool `yaml:"terminal"`
}

// NATSConfig is optional; an empty URL disables forwarding.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Config holds the daemon configuration, read from YAML and then
// overridden by USBMON_* environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Security SecurityConfig `yaml:"security"`
	Prompt   PromptConfig   `yaml:"prompt"`
	NATS     NATSConfig     `yaml:"nats"`
	Logging  logger.Config  `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeoutSec:  15,
			WriteTimeoutSec: 60,
			IdleTimeoutSec:  60,
			TLS:             TLSConfig{MinVersion: TLSVersion12},
		},
		Security: SecurityConfig{
			Level: policy.LevelMedium.String(),
		},
		Prompt:  PromptConfig{Terminal: true},
		NATS:    NATSConfig{SubjectPrefix: notify.DefaultSubjectPrefix},
		Logging: logger.DefaultConfig(),
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %q: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envOrDefault(EnvServerHost, c.Server.Host)
	c.Server.Port = intEnvOrDefault(EnvServerPort, c.Server.Port)
	c.Server.ReadTimeoutSec = intEnvOrDefault(EnvServerReadTimeoutSec, c.Server.ReadTimeoutSec)
	c.Server.WriteTimeoutSec = intEnvOrDefault(EnvServerWriteTimeoutSec, c.Server.WriteTimeoutSec)
	c.Server.IdleTimeoutSec = intEnvOrDefault(EnvServerIdleTimeoutSec, c.Server.IdleTimeoutSec)

	tls := &c.Server.TLS
	tls.Enabled = boolEnvOrDefault(EnvTLSEnabled, tls.Enabled)
	tls.CertFile = envOrDefault(EnvTLSCertFile, tls.CertFile)
	tls.KeyFile = envOrDefault(EnvTLSKeyFile, tls.KeyFile)
	tls.ClientCAFile = envOrDefault(EnvTLSClientCAFile, tls.ClientCAFile)
	tls.RequireClientCert = boolEnvOrDefault(EnvTLSRequireClientCert, tls.RequireClientCert)
	tls.MinVersion = envOrDefault(EnvTLSMinVersion, tls.MinVersion)

	c.Security.ConfigPath = envOrDefault(EnvSecurityConfig, c.Security.ConfigPath)
	c.Security.Watch = boolEnvOrDefault(EnvSecurityWatch, c.Security.Watch)
	c.Security.Level = envOrDefault(EnvSecurityLevel, c.Security.Level)
	if v := strings.TrimSpace(os.Getenv(EnvTrustedCertificates)); v != "" {
		c.Security.TrustedCertificates = splitList(v)
	}

	c.Prompt.Terminal = boolEnvOrDefault(EnvPromptTerminal, c.Prompt.Terminal)

	c.NATS.URL = envOrDefault(EnvNATSURL, c.NATS.URL)
	c.NATS.SubjectPrefix = envOrDefault(EnvNATSSubjectPrefix, c.NATS.SubjectPrefix)
}

// SecurityLevel parses the configured initial level.
func (c Config) SecurityLevel() (policy.SecurityLevel, error) {
	return policy.ParseSecurityLevel(c.Security.Level)
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, EnvServerHost)
	}
	if c.Server.Port < MinPortNumber || c.Server.Port > MaxPortNumber {
		return fmt.Errorf("%w: %s must be in range %d..%d", ErrInvalidConfig, EnvServerPort, MinPortNumber, MaxPortNumber)
	}
	if c.Server.ReadTimeoutSec <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, EnvServerReadTimeoutSec)
	}
	if c.Server.WriteTimeoutSec <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, EnvServerWriteTimeoutSec)
	}
	if c.Server.IdleTimeoutSec <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidConfig, EnvServerIdleTimeoutSec)
	}

	if tls := c.Server.TLS; tls.Enabled {
		if tls.MinVersion != TLSVersion12 && tls.MinVersion != TLSVersion13 {
			return fmt.Errorf("%w: %s must be %q or %q", ErrInvalidConfig, EnvTLSMinVersion, TLSVersion12, TLSVersion13)
		}
		if tls.CertFile == "" {
			return fmt.Errorf("%w: %s required when TLS is enabled", ErrInvalidConfig, EnvTLSCertFile)
		}
		if tls.KeyFile == "" {
			return fmt.Errorf("%w: %s required when TLS is enabled", ErrInvalidConfig, EnvTLSKeyFile)
		}
		if tls.RequireClientCert && tls.ClientCAFile == "" {
			return fmt.Errorf("%w: %s required when mutual TLS is enabled", ErrInvalidConfig, EnvTLSClientCAFile)
		}
	}

	if _, err := c.SecurityLevel(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvSecurityLevel, err)
	}
	if c.Security.Watch && c.Security.ConfigPath == "" {
		return fmt.Errorf("%w: %s required when watching is enabled", ErrInvalidConfig, EnvSecurityConfig)
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidConfig, EnvNATSSubjectPrefix)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnvOrDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func boolEnvOrDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
