package domain

import "strings"

// DeviceGroup is the classification vocabulary
type DeviceGroup string

const (
	GroupSwitch  DeviceGroup = "Switch/Network"
	GroupVOIP    DeviceGroup = "VOIP"
	GroupServer  DeviceGroup = "Server"
	GroupWeb     DeviceGroup = "Web/HTTP"
	GroupUnknown DeviceGroup = "Unknown"
)

// DeviceGroups lists every group Classify can return
var DeviceGroups = []DeviceGroup{GroupSwitch, GroupVOIP, GroupServer, GroupWeb, GroupUnknown}

// Valid reports whether g is part of the vocabulary
func (g DeviceGroup) Valid() bool {
	for _, known := range DeviceGroups {
		if g == known {
			return true
		}
	}
	return false
}

// Ports that drive classification
const (
	PortSSH     = 22
	PortHTTP    = 80
	PortSNMP    = 161
	PortHTTPS   = 443
	PortSIP     = 5060
	PortSIPTLS  = 5061
	PortHTTPAlt = 8080
)

// Classify guesses the device group from open ports and the resolved name.
// First matching rule wins; the order is part of the contract.
func Classify(openPorts []int, hostname string) DeviceGroup {
	ports := make(map[int]bool, len(openPorts))
	for _, p := range openPorts {
		ports[p] = true
	}
	name := strings.ToLower(hostname)

	switch {
	case ports[PortSNMP]:
		return GroupSwitch
	case ports[PortSIP] || ports[PortSIPTLS]:
		return GroupVOIP
	case ports[PortSSH] || strings.Contains(name, "server") || strings.Contains(name, "web"):
		return GroupServer
	case ports[PortHTTP] || ports[PortHTTPS] || ports[PortHTTPAlt]:
		return GroupWeb
	default:
		return GroupUnknown
	}
}
