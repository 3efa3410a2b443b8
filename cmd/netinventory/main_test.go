package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netinventory/internal/config"
	"netinventory/internal/domain"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportThenExport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "netinventory.yaml", "site: Lab\nlog:\n  level: error\n")
	db := filepath.Join(dir, "inv.db")
	input := writeFile(t, dir, "devices.yml", `devices:
  - address: 10.1.0.5
    site: Lab
    hostname: core-switch
    open_ports: [161, 22]
  - address: 10.1.0.9
    site: Lab
    open_ports: [80]
  - address: not-an-ip
    site: Lab
  - address: 10.1.0.12
`)

	out, err := execute(t, "--config", cfg, "--db", db, "import", input)
	assert.ErrorContains(t, err, "1 record(s) rejected")
	assert.Contains(t, out, "imported 3 of 4 records")

	out, err = execute(t, "--config", cfg, "--db", db, "export", "--format", "json")
	require.NoError(t, err)

	var devices []domain.Device
	require.NoError(t, json.Unmarshal([]byte(out), &devices), out)
	require.Len(t, devices, 3)
	assert.Equal(t, "10.1.0.5", devices[0].Address)
	assert.Equal(t, "10.1.0.12", devices[2].Address)
	assert.Equal(t, "Lab", devices[2].Site, "record without site takes the configured one")
	assert.Equal(t, domain.GroupSwitch, devices[0].DeviceGroup)
	assert.Equal(t, domain.StatusUp, devices[0].Status)
	assert.Equal(t, domain.GroupWeb, devices[1].DeviceGroup)

	out, err = execute(t, "--config", cfg, "--db", db, "export", "--format", "ansible")
	require.NoError(t, err)
	assert.Contains(t, out, "lab_switch_network")
	assert.Contains(t, out, "core-switch")
}

func TestNmapOptions(t *testing.T) {
	assert.Len(t, nmapOptions(config.ScannerConfig{Backend: config.BackendNmap}), 2)
	assert.Len(t, nmapOptions(config.ScannerConfig{Backend: config.BackendNmap, NmapPath: "/opt/nmap"}), 3)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "netinventory ")
}

func TestScanFlagValidation(t *testing.T) {
	_, err := execute(t, "scan", "--site", "X")
	assert.ErrorContains(t, err, "--site requires --cidr")
	// Reset so later tests do not inherit the flag
	scanSite = ""
}
