package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Site      string          `yaml:"site"`    // default site label for targets without one
	Targets   []Target        `yaml:"targets"` // address ranges to sweep
	Discovery DiscoveryConfig `yaml:"discovery"`
	Probe     ProbeConfig     `yaml:"probe"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Registry  RegistryConfig  `yaml:"registry"`
	Database  DatabaseConfig  `yaml:"database"`
	Submit    SubmitConfig    `yaml:"submit"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// Target is one CIDR block swept as one site
type Target struct {
	CIDR string `yaml:"cidr"`
	Site string `yaml:"site,omitempty"`
}

// DiscoveryConfig controls the orchestrator
type DiscoveryConfig struct {
	Workers  int      `yaml:"workers"`
	MaxHosts int      `yaml:"max_hosts"`
	Interval Duration `yaml:"interval"` // 0 = scheduler off
}

// ProbeConfig holds probe primitive parameters
type ProbeConfig struct {
	Ports          []int    `yaml:"ports"`
	FallbackPorts  []int    `yaml:"fallback_ports"`
	ICMPTimeout    Duration `yaml:"icmp_timeout"`
	TCPTimeout     Duration `yaml:"tcp_timeout"`
	ResolveTimeout Duration `yaml:"resolve_timeout"`
	DNSServer      string   `yaml:"dns_server,omitempty"` // host:port; empty = system resolver
}

// ScannerConfig selects the port scanning backend
type ScannerConfig struct {
	Backend string `yaml:"backend"` // connect | nmap

	// nmap backend only
	NmapPath         string `yaml:"nmap_path,omitempty"`    // empty = nmap on $PATH
	ConnectScan      *bool  `yaml:"connect_scan,omitempty"` // nil = true; false lets nmap SYN scan as root
	ServiceDetection bool   `yaml:"service_detection,omitempty"`
}

// UseConnectScan returns the effective ConnectScan
func (s ScannerConfig) UseConnectScan() bool {
	return s.ConnectScan == nil || *s.ConnectScan
}

// RegistryConfig holds registry policy and where remote submitters find it
type RegistryConfig struct {
	Store    string `yaml:"store"`    // sqlite | memory
	Endpoint string `yaml:"endpoint"` // base URL used by the http submitter

	// DownAfterMissed is the number of consecutive missed scans before an Up
	// device is marked Down. nil takes the default; 0 disables.
	DownAfterMissed *int `yaml:"down_after_missed,omitempty"`
}

// MissedThreshold returns the effective DownAfterMissed
func (r RegistryConfig) MissedThreshold() int {
	if r.DownAfterMissed == nil {
		return DefaultDownAfterMissed
	}
	return *r.DownAfterMissed
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SubmitConfig controls how discovered records reach the registry
type SubmitConfig struct {
	Mode        string   `yaml:"mode"` // local | http
	MaxAttempts int      `yaml:"max_attempts"`
	Timeout     Duration `yaml:"timeout"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings such as "1s" or "500ms"
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
