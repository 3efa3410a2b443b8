package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"netinventory/internal/domain"
)

// Environment overrides. Unset variables leave the file value alone.
const (
	EnvSite             = "NETINVENTORY_SITE"
	EnvTargets          = "NETINVENTORY_TARGETS" // comma-separated CIDRs
	EnvPorts            = "NETINVENTORY_PORTS"
	EnvWorkers          = "NETINVENTORY_WORKERS"
	EnvInterval         = "NETINVENTORY_INTERVAL"
	EnvScannerBackend   = "NETINVENTORY_SCANNER"
	EnvNmapPath         = "NETINVENTORY_NMAP_PATH"
	EnvDatabasePath     = "NETINVENTORY_DB_PATH"
	EnvStore            = "NETINVENTORY_STORE"
	EnvRegistryEndpoint = "NETINVENTORY_REGISTRY_ENDPOINT"
	EnvSubmitMode       = "NETINVENTORY_SUBMIT_MODE"
	EnvListen           = "NETINVENTORY_LISTEN"
	EnvDNSServer        = "NETINVENTORY_DNS_SERVER"
	EnvLogLevel         = "NETINVENTORY_LOG_LEVEL"
	EnvLogPretty        = "NETINVENTORY_LOG_PRETTY"
)

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvSite); v != "" {
		for i := range c.Targets {
			if c.Targets[i].Site == c.Site {
				c.Targets[i].Site = v
			}
		}
		c.Site = v
	}
	if v := os.Getenv(EnvTargets); v != "" {
		c.Targets = nil
		for _, cidr := range splitAndTrim(v) {
			c.Targets = append(c.Targets, Target{CIDR: cidr, Site: c.Site})
		}
	}
	if v := os.Getenv(EnvPorts); v != "" {
		ports, err := domain.ParsePorts(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPorts, err)
		}
		c.Probe.Ports = ports
	}

	var err error
	if c.Discovery.Workers, err = getenvInt(EnvWorkers, c.Discovery.Workers); err != nil {
		return err
	}
	if c.Discovery.Interval, err = getenvDuration(EnvInterval, c.Discovery.Interval); err != nil {
		return err
	}
	if c.Log.Pretty, err = getenvBool(EnvLogPretty, c.Log.Pretty); err != nil {
		return err
	}

	c.Scanner.Backend = getenv(EnvScannerBackend, c.Scanner.Backend)
	c.Scanner.NmapPath = getenv(EnvNmapPath, c.Scanner.NmapPath)
	c.Database.Path = getenv(EnvDatabasePath, c.Database.Path)
	c.Registry.Store = getenv(EnvStore, c.Registry.Store)
	c.Registry.Endpoint = getenv(EnvRegistryEndpoint, c.Registry.Endpoint)
	c.Submit.Mode = getenv(EnvSubmitMode, c.Submit.Mode)
	c.Server.Listen = getenv(EnvListen, c.Server.Listen)
	c.Probe.DNSServer = getenv(EnvDNSServer, c.Probe.DNSServer)
	c.Log.Level = getenv(EnvLogLevel, c.Log.Level)

	return nil
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid integer value for %s: %s", key, v)
	}
	return i, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid boolean value for %s: %s", key, v)
	}
	return b, nil
}

func getenvDuration(key string, def Duration) (Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid duration value for %s: %s", key, v)
	}
	return Duration(d), nil
}

func splitAndTrim(s string) []string {
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
