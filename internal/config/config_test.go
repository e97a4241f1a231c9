package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/bgapi-host/internal/ble/registry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Driver != "bugst" {
		t.Errorf("Serial.Driver = %q, want %q", cfg.Serial.Driver, "bugst")
	}
	if !cfg.Serial.DTR || !cfg.Serial.RTS {
		t.Error("DTR and RTS should default to on")
	}
	if cfg.Protocol.MaxPayload != 255 {
		t.Errorf("Protocol.MaxPayload = %d, want 255", cfg.Protocol.MaxPayload)
	}
	if cfg.Protocol.ResponseTimeout != 2*time.Second {
		t.Errorf("Protocol.ResponseTimeout = %v, want 2s", cfg.Protocol.ResponseTimeout)
	}
	if cfg.Session.BackgroundReader {
		t.Error("Session.BackgroundReader should default to off")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
serial:
  port: /dev/ttyACM1
  baud_rate: 57600
  driver: tarm
  read_slice: 50ms
  rts: false
protocol:
  max_payload: 2047
  response_timeout: 500ms
session:
  background_reader: true
  reset_timeout: 30s
security:
  oob_secret: "hex:00112233"
metrics:
  addr: ":9102"
log_level: debug
`
	cfg, err := Load(writeFile(t, "config.yaml", yamlContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyACM1" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "/dev/ttyACM1")
	}
	if cfg.Serial.BaudRate != 57600 {
		t.Errorf("Serial.BaudRate = %d, want 57600", cfg.Serial.BaudRate)
	}
	if cfg.Serial.Driver != "tarm" {
		t.Errorf("Serial.Driver = %q, want %q", cfg.Serial.Driver, "tarm")
	}
	if cfg.Serial.ReadSlice != 50*time.Millisecond {
		t.Errorf("Serial.ReadSlice = %v, want 50ms", cfg.Serial.ReadSlice)
	}
	if !cfg.Serial.DTR || cfg.Serial.RTS {
		t.Errorf("DTR/RTS = %v/%v, want true/false", cfg.Serial.DTR, cfg.Serial.RTS)
	}
	if cfg.Protocol.MaxPayload != 2047 {
		t.Errorf("Protocol.MaxPayload = %d, want 2047", cfg.Protocol.MaxPayload)
	}
	if cfg.Protocol.ResponseTimeout != 500*time.Millisecond {
		t.Errorf("Protocol.ResponseTimeout = %v, want 500ms", cfg.Protocol.ResponseTimeout)
	}
	if !cfg.Session.BackgroundReader {
		t.Error("Session.BackgroundReader = false, want true")
	}
	if cfg.Session.ResetTimeout != 30*time.Second {
		t.Errorf("Session.ResetTimeout = %v, want 30s", cfg.Session.ResetTimeout)
	}
	// Unset fields keep their defaults.
	if cfg.Session.QueueHint != 64 {
		t.Errorf("Session.QueueHint = %d, want 64", cfg.Session.QueueHint)
	}
	if cfg.Metrics.Addr != ":9102" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9102")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}

	secret, err := cfg.OOBSecret()
	if err != nil {
		t.Fatalf("OOBSecret() error = %v", err)
	}
	if len(secret) != 4 || secret[3] != 0x33 {
		t.Errorf("OOBSecret() = %x, want 00112233", secret)
	}
}

func TestLoadTOML(t *testing.T) {
	tomlContent := `
log_level = "warn"

[serial]
port = "COM4"
driver = "tarm"

[protocol]
response_timeout = "3s"

[session]
queue_hint = 128
`
	cfg, err := Load(writeFile(t, "config.toml", tomlContent))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serial.Port != "COM4" {
		t.Errorf("Serial.Port = %q, want %q", cfg.Serial.Port, "COM4")
	}
	if cfg.Serial.Driver != "tarm" {
		t.Errorf("Serial.Driver = %q, want %q", cfg.Serial.Driver, "tarm")
	}
	if cfg.Protocol.ResponseTimeout != 3*time.Second {
		t.Errorf("Protocol.ResponseTimeout = %v, want 3s", cfg.Protocol.ResponseTimeout)
	}
	if cfg.Session.QueueHint != 128 {
		t.Errorf("Session.QueueHint = %d, want 128", cfg.Session.QueueHint)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want default 115200", cfg.Serial.BaudRate)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml", "config.yaml", "serial:\n  parity: even\n"},
		{"toml", "config.toml", "[serial]\nparity = \"even\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.file, tt.content)); err == nil {
				t.Error("Load() should reject an unknown key")
			}
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want default", cfg.Serial.BaudRate)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	cfg, err := Load(writeFile(t, "config.yaml", "protocol:\n  catalog_path: ~/bgapi/extra.yaml\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "bgapi/extra.yaml")
	if cfg.Protocol.CatalogPath != expected {
		t.Errorf("Protocol.CatalogPath = %q, want %q", cfg.Protocol.CatalogPath, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "driver is case insensitive",
			modify:  func(c *Config) { c.Serial.Driver = "TARM" },
			wantErr: false,
		},
		{
			name:    "unknown driver",
			modify:  func(c *Config) { c.Serial.Driver = "usbmagic" },
			wantErr: true,
		},
		{
			name:    "zero baud rate",
			modify:  func(c *Config) { c.Serial.BaudRate = 0 },
			wantErr: true,
		},
		{
			name:    "zero read slice",
			modify:  func(c *Config) { c.Serial.ReadSlice = 0 },
			wantErr: true,
		},
		{
			name:    "max payload above header limit",
			modify:  func(c *Config) { c.Protocol.MaxPayload = 2048 },
			wantErr: true,
		},
		{
			name:    "zero max payload",
			modify:  func(c *Config) { c.Protocol.MaxPayload = 0 },
			wantErr: true,
		},
		{
			name:    "zero response timeout",
			modify:  func(c *Config) { c.Protocol.ResponseTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero queue hint",
			modify:  func(c *Config) { c.Session.QueueHint = 0 },
			wantErr: true,
		},
		{
			name:    "negative reset delay",
			modify:  func(c *Config) { c.Session.ResetDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "zero reset delay",
			modify:  func(c *Config) { c.Session.ResetDelay = 0 },
			wantErr: false,
		},
		{
			name:    "zero poll timeout",
			modify:  func(c *Config) { c.Session.PollTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "bad hex secret",
			modify:  func(c *Config) { c.Security.OOBSecret = "hex:zz" },
			wantErr: true,
		},
		{
			name:    "passphrase secret",
			modify:  func(c *Config) { c.Security.OOBSecret = "correct horse" },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLevel(t *testing.T) {
	levels := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}
	for name, want := range levels {
		cfg := Default()
		cfg.LogLevel = name
		got, err := cfg.Level()
		if err != nil || got != want {
			t.Errorf("Level(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Protocol.MaxPayload = 512
	cfg.Session.BackgroundReader = true
	cfg.Session.ResetDelay = 3 * time.Second

	opts, err := cfg.SessionOptions(logrus.NewEntry(logrus.New()), nil)
	if err != nil {
		t.Fatalf("SessionOptions() error = %v", err)
	}
	if opts.MaxPayload != 512 || !opts.Background || opts.ResetDelay != 3*time.Second {
		t.Errorf("SessionOptions() = %+v", opts)
	}
	if opts.Dial == nil {
		t.Error("SessionOptions() left Dial nil")
	}
	if opts.Registry != nil {
		t.Error("SessionOptions() without catalog_path should use the built-in catalog")
	}
}

func TestSessionOptionsCatalog(t *testing.T) {
	catalog := `
events:
  - name: vendor_beacon
    class: 16
    id: 1
    params:
      - {name: level, type: uint8}
`
	cfg := Default()
	cfg.Protocol.CatalogPath = writeFile(t, "extra.yaml", catalog)

	opts, err := cfg.SessionOptions(logrus.NewEntry(logrus.New()), nil)
	if err != nil {
		t.Fatalf("SessionOptions() error = %v", err)
	}
	if opts.Registry == nil {
		t.Fatal("SessionOptions() did not load the catalog")
	}
	if _, err := opts.Registry.Lookup("vendor_beacon", registry.KindEvent); err != nil {
		t.Errorf("Lookup(vendor_beacon) error = %v", err)
	}
	if _, err := opts.Registry.Lookup("gap_set_mode", registry.KindCommand); err != nil {
		t.Errorf("built-in entries lost: %v", err)
	}

	cfg.Protocol.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.SessionOptions(logrus.NewEntry(logrus.New()), nil); err == nil {
		t.Error("SessionOptions() should fail for a missing catalog")
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "bgapi-host", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# bgapi-host") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Protocol.ResponseTimeout != 2*time.Second {
		t.Errorf("written config Protocol.ResponseTimeout = %v, want 2s", cfg.Protocol.ResponseTimeout)
	}

	// And it loads back through Load.
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "bgapi-host")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}
