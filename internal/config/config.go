package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/bgapi-host/internal/ble"
	blecrypto "github.com/chaz8081/bgapi-host/internal/ble/crypto"
	"github.com/chaz8081/bgapi-host/internal/ble/protocol"
	"github.com/chaz8081/bgapi-host/internal/ble/registry"
	"github.com/chaz8081/bgapi-host/internal/metrics"
	"github.com/chaz8081/bgapi-host/internal/transport"
)

// Config holds all application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial" toml:"serial"`
	Protocol ProtocolConfig `yaml:"protocol" toml:"protocol"`
	Session  SessionConfig  `yaml:"session" toml:"session"`
	Security SecurityConfig `yaml:"security" toml:"security"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
	LogLevel string         `yaml:"log_level" toml:"log_level"`
}

// SerialConfig holds the serial line settings.
type SerialConfig struct {
	Port      string        `yaml:"port" toml:"port"` // empty: first BLED112 found
	BaudRate  int           `yaml:"baud_rate" toml:"baud_rate"`
	Driver    string        `yaml:"driver" toml:"driver"` // "bugst" or "tarm"
	ReadSlice time.Duration `yaml:"read_slice" toml:"read_slice"`
	DTR       bool          `yaml:"dtr" toml:"dtr"`
	RTS       bool          `yaml:"rts" toml:"rts"`
}

// ProtocolConfig holds framing and catalog settings.
type ProtocolConfig struct {
	MaxPayload      int           `yaml:"max_payload" toml:"max_payload"`
	ResponseTimeout time.Duration `yaml:"response_timeout" toml:"response_timeout"`
	CatalogPath     string        `yaml:"catalog_path" toml:"catalog_path"`
}

// SessionConfig holds read loop and reset settings.
type SessionConfig struct {
	BackgroundReader bool          `yaml:"background_reader" toml:"background_reader"`
	QueueHint        int           `yaml:"queue_hint" toml:"queue_hint"`
	ResetDelay       time.Duration `yaml:"reset_delay" toml:"reset_delay"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" toml:"reset_timeout"`
	PollTimeout      time.Duration `yaml:"poll_timeout" toml:"poll_timeout"`
}

// SecurityConfig holds pairing settings.
type SecurityConfig struct {
	// OOBSecret is "hex:<bytes>" or a passphrase. Empty disables OOB pairing.
	OOBSecret string `yaml:"oob_secret" toml:"oob_secret"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `yaml:"addr" toml:"addr"` // empty disables the endpoint
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "bgapi-host")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:  transport.DefaultBaudRate,
			Driver:    transport.DefaultDriver,
			ReadSlice: transport.DefaultReadSlice,
			DTR:       true,
			RTS:       true,
		},
		Protocol: ProtocolConfig{
			MaxPayload:      protocol.DefaultMaxPayload,
			ResponseTimeout: 2 * time.Second,
		},
		Session: SessionConfig{
			QueueHint:    64,
			ResetDelay:   time.Second,
			ResetTimeout: 10 * time.Second,
			PollTimeout:  time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a config file. Files ending in .toml are decoded as
// TOML, everything else as YAML. Missing fields are filled with defaults.
// Tilde (~) in catalog_path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config file: unknown key %q", undecoded[0].String())
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.Protocol.CatalogPath = expandTilde(cfg.Protocol.CatalogPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be > 0")
	}

	if !slices.Contains(transport.Drivers(), strings.ToLower(c.Serial.Driver)) {
		return fmt.Errorf("serial.driver must be one of %s, got %q",
			strings.Join(transport.Drivers(), ", "), c.Serial.Driver)
	}

	if c.Serial.ReadSlice <= 0 {
		return fmt.Errorf("serial.read_slice must be > 0")
	}

	if c.Protocol.MaxPayload < 1 || c.Protocol.MaxPayload > protocol.MaxPayloadLen {
		return fmt.Errorf("protocol.max_payload must be between 1 and %d, got %d",
			protocol.MaxPayloadLen, c.Protocol.MaxPayload)
	}

	if c.Protocol.ResponseTimeout <= 0 {
		return fmt.Errorf("protocol.response_timeout must be > 0")
	}

	if c.Session.QueueHint <= 0 {
		return fmt.Errorf("session.queue_hint must be > 0")
	}

	if c.Session.ResetDelay < 0 {
		return fmt.Errorf("session.reset_delay must not be negative")
	}

	if c.Session.ResetTimeout <= 0 {
		return fmt.Errorf("session.reset_timeout must be > 0")
	}

	if c.Session.PollTimeout <= 0 {
		return fmt.Errorf("session.poll_timeout must be > 0")
	}

	if c.Security.OOBSecret != "" {
		if _, err := blecrypto.ParseSecret(c.Security.OOBSecret); err != nil {
			return fmt.Errorf("security.oob_secret: %w", err)
		}
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

// Level maps log_level to a logrus level.
func (c *Config) Level() (logrus.Level, error) {
	switch c.LogLevel {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
}

// OOBSecret decodes security.oob_secret, or returns nil when unset.
func (c *Config) OOBSecret() ([]byte, error) {
	if c.Security.OOBSecret == "" {
		return nil, nil
	}
	return blecrypto.ParseSecret(c.Security.OOBSecret)
}

// Transport builds the serial settings for the transport package.
func (c *Config) Transport(log *logrus.Entry) transport.Config {
	return transport.Config{
		Port:      c.Serial.Port,
		BaudRate:  c.Serial.BaudRate,
		Driver:    c.Serial.Driver,
		ReadSlice: c.Serial.ReadSlice,
		DTR:       c.Serial.DTR,
		RTS:       c.Serial.RTS,
		Log:       log,
	}
}

// SessionOptions builds session options, loading catalog_path on top of the
// built-in catalog when set.
func (c *Config) SessionOptions(log *logrus.Entry, m *metrics.Metrics) (ble.Options, error) {
	opts := ble.DefaultOptions()
	if c.Protocol.CatalogPath != "" {
		reg, err := registry.LoadFile(c.Protocol.CatalogPath)
		if err != nil {
			return ble.Options{}, fmt.Errorf("loading catalog: %w", err)
		}
		opts.Registry = reg
	}
	opts.Dial = ble.SerialDialer(c.Transport(log))
	opts.MaxPayload = c.Protocol.MaxPayload
	opts.ResponseTimeout = c.Protocol.ResponseTimeout
	opts.Background = c.Session.BackgroundReader
	opts.QueueHint = c.Session.QueueHint
	opts.ReadSlice = c.Serial.ReadSlice
	opts.ResetDelay = c.Session.ResetDelay
	opts.ResetTimeout = c.Session.ResetTimeout
	opts.Logger = log
	opts.Metrics = m
	return opts, nil
}

const defaultHeader = `# bgapi-host configuration
#
# serial.port may be left empty to use the first BLED112 found.
# Durations use Go syntax: 100ms, 2s, 1m.
# security.oob_secret is "hex:<bytes>" or a passphrase.

`

// WriteDefault writes the default config to DefaultConfigPath. If a file is
// already there it is left untouched and the returned path is empty.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
