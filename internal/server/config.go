package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/devshojol/HC-06-Controller/internal/bt"
	"github.com/devshojol/HC-06-Controller/internal/linebuf"
	"github.com/devshojol/HC-06-Controller/internal/logger"
	"github.com/devshojol/HC-06-Controller/internal/session"
	"gopkg.in/yaml.v3"
)

// Transport types.
const (
	TransportRFCOMM = "rfcomm"
	TransportSerial = "serial"
	TransportDemo   = "demo"
)

// Config holds all controller configuration.
type Config struct {
	mu sync.RWMutex

	// Bluetooth link
	Transport TransportConfig `yaml:"transport" json:"transport"`

	// Line framing and history
	Session SessionConfig `yaml:"session" json:"session"`

	// Host checks before enumeration
	Preflight PreflightConfig `yaml:"preflight" json:"preflight"`

	// Traffic CSV
	Logging logger.Config `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type TransportConfig struct {
	Type        string            `yaml:"type" json:"type"`           // "rfcomm", "serial" or "demo"
	Connector   string            `yaml:"connector" json:"connector"` // Only "rfcomm" is supported
	Delimiter   string            `yaml:"delimiter" json:"delimiter"` // Escaped, e.g. \n or \r\n
	BaudRate    int               `yaml:"baud_rate" json:"baudRate"`
	Adapter     string            `yaml:"adapter" json:"adapter"`          // e.g. hci0
	Ports       map[string]string `yaml:"ports" json:"ports"`              // address -> /dev/rfcommN
	DefaultPort string            `yaml:"default_port" json:"defaultPort"` // TTY for unmapped addresses
	PortFilter  []string          `yaml:"port_filter" json:"portFilter"`   // serial: substrings of port paths
	Demo        DemoConfig        `yaml:"demo" json:"demo"`
}

type DemoConfig struct {
	ConnectDelayMs int    `yaml:"connect_delay_ms" json:"connectDelayMs"`
	TelemetryMs    int    `yaml:"telemetry_ms" json:"telemetryMs"` // 0 disables telemetry
	FailAddress    string `yaml:"fail_address" json:"failAddress"`
	DropAfterMs    int    `yaml:"drop_after_ms" json:"dropAfterMs"` // Simulated link loss; 0 never
}

type SessionConfig struct {
	MaxLines   int  `yaml:"max_lines" json:"maxLines"`
	TrimCR     bool `yaml:"trim_cr" json:"trimCR"`
	MaxPending int  `yaml:"max_pending" json:"maxPending"` // bytes
}

type PreflightConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Unit    string `yaml:"unit" json:"unit"`       // systemd unit that must be active
	Adapter string `yaml:"adapter" json:"adapter"` // Falls back to transport.adapter
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
	MDNS       bool   `yaml:"mdns" json:"mdns"`          // Advertise _hc06ctl._tcp
	MDNSName   string `yaml:"mdns_name" json:"mdnsName"` // Instance name, hostname when empty
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Type:      TransportRFCOMM,
			Connector: bt.ConnectorRFCOMM,
			Delimiter: `\n`,
			BaudRate:  9600,
			Adapter:   "hci0",
			Ports:     map[string]string{},
			Demo: DemoConfig{
				ConnectDelayMs: 800,
				TelemetryMs:    1000,
			},
		},
		Session: SessionConfig{
			MaxLines:   linebuf.DefaultCapacity,
			TrimCR:     true,
			MaxPending: linebuf.DefaultMaxPending,
		},
		Preflight: PreflightConfig{
			Enabled: true,
			Unit:    "bluetooth.service",
		},
		Logging: logger.Config{
			Enabled: false,
			Path:    "/var/log/hc06ctl",
			MaxRows: 100_000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
			MDNS:       false,
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Printf("[config] %v, using transport defaults", err)
		cfg.Transport = DefaultConfig().Transport
	}
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var delimiterEscapes = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\t`, "\t")

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: BT_TRANSPORT, BT_PORT, BT_BAUD, BT_DELIMITER, BT_ADAPTER,
// LISTEN_ADDR, MDNS, LOG_ENABLED, LOG_PATH, PREFLIGHT
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BT_TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
	if v := os.Getenv("BT_PORT"); v != "" {
		c.Transport.DefaultPort = v
	}
	if v := os.Getenv("BT_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.BaudRate = n
		}
	}
	if v := os.Getenv("BT_DELIMITER"); v != "" {
		c.Transport.Delimiter = v
	}
	if v := os.Getenv("BT_ADAPTER"); v != "" {
		c.Transport.Adapter = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("MDNS"); v != "" {
		c.Server.MDNS = truthy(v)
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = truthy(v)
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("PREFLIGHT"); v != "" {
		c.Preflight.Enabled = truthy(v)
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// Validate reports settings no binding can run with.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case TransportRFCOMM, TransportSerial, TransportDemo:
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}
	if c.Transport.Delimiter == "" {
		return fmt.Errorf("empty line delimiter")
	}
	if c.Transport.BaudRate < 0 {
		return fmt.Errorf("invalid baud rate %d", c.Transport.BaudRate)
	}
	return nil
}

// SessionSettings returns the session manager configuration.
func (c *Config) SessionSettings() session.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return session.Config{
		Options: bt.Options{
			ConnectorType: c.Transport.Connector,
			Delimiter:     delimiterEscapes.Replace(c.Transport.Delimiter),
		},
		TrimCR:     c.Session.TrimCR,
		MaxPending: c.Session.MaxPending,
		MaxLines:   c.Session.MaxLines,
	}
}

// DemoSettings returns the simulated vehicle configuration.
func (c *Config) DemoSettings() bt.DemoConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bt.DemoConfig{
		ConnectDelay:      time.Duration(c.Transport.Demo.ConnectDelayMs) * time.Millisecond,
		TelemetryInterval: time.Duration(c.Transport.Demo.TelemetryMs) * time.Millisecond,
		FailAddress:       c.Transport.Demo.FailAddress,
		DropAfter:         time.Duration(c.Transport.Demo.DropAfterMs) * time.Millisecond,
	}
}

// LoggingEnabled reports the traffic logging switch.
func (c *Config) LoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging.Enabled
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/hc06ctl/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. A patch that leaves the config invalid is
// rejected and nothing changes.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	next := DefaultConfig()
	if err := json.Unmarshal(merged, next); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return err
	}

	c.Transport = next.Transport
	c.Session = next.Session
	c.Preflight = next.Preflight
	c.Logging = next.Logging
	c.Server = next.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
