// Package config loads netinventory settings from YAML with environment
// overrides.
//
// Config file locations (priority order):
//  1. $NETINVENTORY_CONFIG
//  2. ./netinventory.yaml
//  3. $XDG_CONFIG_HOME/netinventory/config.yaml
//  4. ~/.config/netinventory/config.yaml
//  5. /etc/netinventory/config.yaml
//
// Every knob has a default, so running without a file is valid.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"netinventory/internal/logger"
)

// Defaults
const (
	DefaultSite            = "Home"
	DefaultTarget          = "192.168.0.0/24"
	DefaultWorkers         = 64
	DefaultMaxHosts        = 65536
	DefaultDatabasePath    = "./netinventory.db"
	DefaultListen          = ":8000"
	DefaultEndpoint        = "http://127.0.0.1:8000"
	DefaultSubmitAttempts  = 3
	DefaultDownAfterMissed = 3
	DefaultLogLevel        = "info"

	BackendConnect = "connect"
	BackendNmap    = "nmap"

	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	SubmitLocal = "local"
	SubmitHTTP  = "http"
)

var (
	DefaultPorts         = []int{22, 80, 443, 21, 8080, 161, 5060}
	DefaultFallbackPorts = []int{22, 80, 443, 161, 5060, 21}
)

// Load finds and loads the config file, or returns defaults if none found.
// Environment overrides are applied in both cases.
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		cfg := DefaultConfig()
		if err := cfg.applyEnv(); err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns the settings used when no file is present
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Site == "" {
		c.Site = DefaultSite
	}
	if len(c.Targets) == 0 {
		c.Targets = []Target{{CIDR: DefaultTarget}}
	}
	for i := range c.Targets {
		if c.Targets[i].Site == "" {
			c.Targets[i].Site = c.Site
		}
	}

	if c.Discovery.Workers == 0 {
		c.Discovery.Workers = DefaultWorkers
	}
	if c.Discovery.MaxHosts == 0 {
		c.Discovery.MaxHosts = DefaultMaxHosts
	}

	if len(c.Probe.Ports) == 0 {
		c.Probe.Ports = append([]int(nil), DefaultPorts...)
	}
	if len(c.Probe.FallbackPorts) == 0 {
		c.Probe.FallbackPorts = append([]int(nil), DefaultFallbackPorts...)
	}
	if c.Probe.ICMPTimeout == 0 {
		c.Probe.ICMPTimeout = Duration(time.Second)
	}
	if c.Probe.TCPTimeout == 0 {
		c.Probe.TCPTimeout = Duration(time.Second)
	}
	if c.Probe.ResolveTimeout == 0 {
		c.Probe.ResolveTimeout = Duration(2 * time.Second)
	}

	if c.Scanner.Backend == "" {
		c.Scanner.Backend = BackendConnect
	}

	if c.Registry.Store == "" {
		c.Registry.Store = StoreSQLite
	}
	if c.Registry.Endpoint == "" {
		c.Registry.Endpoint = DefaultEndpoint
	}

	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Submit.Mode == "" {
		c.Submit.Mode = SubmitLocal
	}
	if c.Submit.MaxAttempts == 0 {
		c.Submit.MaxAttempts = DefaultSubmitAttempts
	}
	if c.Submit.Timeout == 0 {
		c.Submit.Timeout = Duration(5 * time.Second)
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(5 * time.Second)
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// Validate checks ranges and enumerations. It reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Site == "" {
		errs = append(errs, errors.New("site must not be empty"))
	}
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required"))
	}
	for _, t := range c.Targets {
		if !validTarget(t.CIDR) {
			errs = append(errs, fmt.Errorf("target %q is not an IPv4 CIDR or address", t.CIDR))
		}
	}

	if c.Discovery.Workers < 1 {
		errs = append(errs, fmt.Errorf("discovery.workers must be >= 1, got %d", c.Discovery.Workers))
	}
	if c.Discovery.MaxHosts < 1 {
		errs = append(errs, fmt.Errorf("discovery.max_hosts must be >= 1, got %d", c.Discovery.MaxHosts))
	}
	if c.Discovery.Interval < 0 {
		errs = append(errs, errors.New("discovery.interval must not be negative"))
	}

	for _, p := range append(append([]int(nil), c.Probe.Ports...), c.Probe.FallbackPorts...) {
		if p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("port %d out of range", p))
		}
	}
	if c.Probe.ICMPTimeout <= 0 || c.Probe.TCPTimeout <= 0 || c.Probe.ResolveTimeout <= 0 {
		errs = append(errs, errors.New("probe timeouts must be positive"))
	}
	if c.Probe.DNSServer != "" {
		if _, err := netip.ParseAddrPort(c.Probe.DNSServer); err != nil {
			errs = append(errs, fmt.Errorf("probe.dns_server %q must be ip:port", c.Probe.DNSServer))
		}
	}

	switch c.Scanner.Backend {
	case BackendConnect, BackendNmap:
	default:
		errs = append(errs, fmt.Errorf("unknown scanner.backend %q", c.Scanner.Backend))
	}
	switch c.Registry.Store {
	case StoreSQLite, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown registry.store %q", c.Registry.Store))
	}
	if c.Registry.MissedThreshold() < 0 {
		errs = append(errs, errors.New("registry.down_after_missed must not be negative"))
	}
	switch c.Submit.Mode {
	case SubmitLocal, SubmitHTTP:
	default:
		errs = append(errs, fmt.Errorf("unknown submit.mode %q", c.Submit.Mode))
	}
	if c.Submit.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("submit.max_attempts must be >= 1, got %d", c.Submit.MaxAttempts))
	}
	if !logger.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Errorf("unknown log.level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}

func validTarget(s string) bool {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Addr().Is4()
	}
	a, err := netip.ParseAddr(s)
	return err == nil && a.Is4()
}
