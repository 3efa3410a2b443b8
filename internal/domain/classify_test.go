package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		ports    []int
		hostname string
		want     DeviceGroup
	}{
		{"snmp", []int{161}, "", GroupSwitch},
		{"web ports", []int{80, 443}, "", GroupWeb},
		{"hostname substring", nil, "web-server-1", GroupServer},
		{"snmp beats everything", []int{161, 5060, 22, 80}, "web-server", GroupSwitch},
		{"sip", []int{5060}, "", GroupVOIP},
		{"sip tls", []int{5061}, "", GroupVOIP},
		{"sip beats ssh", []int{5060, 22}, "server", GroupVOIP},
		{"ssh", []int{22}, "", GroupServer},
		{"ssh beats http", []int{22, 80}, "", GroupServer},
		{"server in name", []int{80}, "fileserver", GroupServer},
		{"web in name", nil, "mywebhost", GroupServer},
		{"name case-insensitive", nil, "BUILD-SERVER", GroupServer},
		{"http", []int{80}, "", GroupWeb},
		{"https", []int{443}, "printer", GroupWeb},
		{"http alt", []int{8080}, "", GroupWeb},
		{"nothing", nil, "", GroupUnknown},
		{"unrelated ports", []int{21, 3389}, "laptop", GroupUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ports, tt.hostname))
		})
	}
}

// Every combination of rule-relevant signals must map to exactly the group
// the first matching rule names.
func TestClassifyAllCombinations(t *testing.T) {
	signals := []int{PortSNMP, PortSIP, PortSIPTLS, PortSSH, PortHTTP, PortHTTPS, PortHTTPAlt}
	names := []string{"", "server", "Web", "plain"}

	for mask := 0; mask < 1<<len(signals); mask++ {
		var ports []int
		has := map[int]bool{}
		for i, p := range signals {
			if mask&(1<<i) != 0 {
				ports = append(ports, p)
				has[p] = true
			}
		}
		for _, name := range names {
			var want DeviceGroup
			nameHit := name == "server" || name == "Web"
			switch {
			case has[PortSNMP]:
				want = GroupSwitch
			case has[PortSIP] || has[PortSIPTLS]:
				want = GroupVOIP
			case has[PortSSH] || nameHit:
				want = GroupServer
			case has[PortHTTP] || has[PortHTTPS] || has[PortHTTPAlt]:
				want = GroupWeb
			default:
				want = GroupUnknown
			}

			got := Classify(ports, name)
			assert.Equal(t, want, got, fmt.Sprintf("ports=%v name=%q", ports, name))
			assert.True(t, got.Valid())
			assert.Equal(t, got, Classify(ports, name), "classification must be deterministic")
		}
	}
}

func TestDeviceGroupValid(t *testing.T) {
	for _, g := range DeviceGroups {
		assert.True(t, g.Valid(), g)
	}
	assert.False(t, DeviceGroup("Printer").Valid())
	assert.False(t, DeviceGroup("").Valid())
}
