// Package config handles alloyrt configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./alloy.yaml, ~/.config/alloy/alloy.yaml (when the home directory is
// known), /config/alloy.yaml, /etc/alloy/alloy.yaml. An explicit path
// (from -config flag) is not part of this list; FindConfig handles it.
func DefaultSearchPaths() []string {
	paths := []string{"alloy.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "alloy", "alloy.yaml"))
	}

	paths = append(paths, "/config/alloy.yaml") // Container convention
	paths = append(paths, "/etc/alloy/alloy.yaml")
	return paths
}

// searchPathsFunc is a seam for tests to avoid finding real config
// files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// ConnectionKind discriminates the four transport shapes a connection
// entry may configure. Mirrors the TransportType classification in the
// adapter bridge.
type ConnectionKind string

const (
	ConnWSServer   ConnectionKind = "ws-server"
	ConnWSClient   ConnectionKind = "ws-client"
	ConnHTTPServer ConnectionKind = "http-server"
	ConnHTTPClient ConnectionKind = "http-client"
)

// ConnectionConfig configures one connection within an adapter. Fields
// not relevant to Type are left zero-valued; Validate checks that the
// fields required by Type are present.
type ConnectionConfig struct {
	Type    ConnectionKind `yaml:"type"`
	Name    string         `yaml:"name"`
	Enabled bool           `yaml:"enabled"`

	// AccessToken is a bearer token: sent in the Authorization header
	// for ws-client/http-client, required (if set) on inbound requests
	// for ws-server/http-server.
	AccessToken string `yaml:"access_token"`

	// ws-server / http-server
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`

	// ws-client
	URL           string `yaml:"url"`
	AutoReconnect bool   `yaml:"auto_reconnect"`

	// http-client
	APIURL string `yaml:"api_url"`
	BotID  string `yaml:"bot_id"`
}

// BindAddr returns "host:port" for server-shaped connections.
func (c ConnectionConfig) BindAddr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// Validate checks that the fields required by Type are present.
func (c ConnectionConfig) Validate() error {
	switch c.Type {
	case ConnWSServer, ConnHTTPServer:
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("connection %q: port %d out of range (1-65535)", c.Name, c.Port)
		}
		if c.Path == "" {
			return fmt.Errorf("connection %q: path must not be empty", c.Name)
		}
	case ConnWSClient:
		if c.URL == "" {
			return fmt.Errorf("connection %q: url must not be empty", c.Name)
		}
	case ConnHTTPClient:
		if c.APIURL == "" {
			return fmt.Errorf("connection %q: api_url must not be empty", c.Name)
		}
		if c.BotID == "" {
			return fmt.Errorf("connection %q: bot_id must not be empty", c.Name)
		}
	default:
		return fmt.Errorf("connection %q: unknown type %q", c.Name, c.Type)
	}
	return nil
}

// AdapterConfig configures one named adapter instance.
type AdapterConfig struct {
	// DefaultAccessToken is used by connections that don't set their own.
	DefaultAccessToken string             `yaml:"default_access_token"`
	Connections        []ConnectionConfig `yaml:"connections"`
}

// Enabled returns the subset of Connections with Enabled set.
func (a AdapterConfig) Enabled() []ConnectionConfig {
	out := make([]ConnectionConfig, 0, len(a.Connections))
	for _, c := range a.Connections {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}

// MetricsConfig configures the optional Prometheus listener.
type MetricsConfig struct {
	// Listen is the bind address for the /metrics and /healthz
	// endpoints. Empty disables the listener.
	Listen string `yaml:"listen"`
}

// Config holds all alloyrt configuration.
type Config struct {
	LogLevel string                   `yaml:"log_level"`
	Metrics  MetricsConfig            `yaml:"metrics"`
	Adapters map[string]AdapterConfig `yaml:"adapters"`
	// Plugins holds each plugin's raw config slice, kept as a
	// yaml.Node so individual plugins can Decode it into their own
	// typed config struct via PluginConfig[T] without alloyrt needing
	// to know every plugin's schema up front.
	Plugins map[string]yaml.Node `yaml:"plugins"`
}

// Load reads configuration from a YAML file, expands environment
// variables, and validates the result. No defaults are applied: fields
// absent from the file keep their zero values (an empty LogLevel, nil
// Adapters and Plugins maps).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${ALLOY_TOKEN}). Convenience
	// for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	for name, a := range c.Adapters {
		for _, conn := range a.Connections {
			if err := conn.Validate(); err != nil {
				return fmt.Errorf("adapter %q: %w", name, err)
			}
		}
	}
	return nil
}

// Default returns a zero-adapter, zero-plugin configuration. Used when
// no config file is found — the runtime façade still starts, just with
// nothing registered, per the "may yield defaults on failure" contract.
func Default() *Config {
	return &Config{
		Adapters: map[string]AdapterConfig{},
		Plugins:  map[string]yaml.Node{},
	}
}

// DecodeInto decodes a named plugin's raw config slice into out. If the
// plugin has no config section, out is left at its zero value (the
// caller's PluginConfig[T] extractor treats that as T's default).
func (c *Config) DecodeInto(plugin string, out any) error {
	node, ok := c.Plugins[plugin]
	if !ok {
		return nil
	}
	return node.Decode(out)
}

// RawPluginConfig re-encodes a named plugin's YAML config section as
// JSON, the wire format plugin.Manager.Register and
// dispatch.PluginConfig[T] share internally. Returns nil (not an
// error) for a plugin with no config section.
func (c *Config) RawPluginConfig(plugin string) ([]byte, error) {
	node, ok := c.Plugins[plugin]
	if !ok {
		return nil, nil
	}
	var generic any
	if err := node.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode plugin %q config: %w", plugin, err)
	}
	return json.Marshal(generic)
}
