package codec

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"netinventory/internal/domain"
)

// AnsibleCodec exports devices as an Ansible YAML inventory. Each site
// becomes a group whose children are per-device-group groups.
type AnsibleCodec struct{}

// NewAnsibleCodec creates a new Ansible codec
func NewAnsibleCodec() *AnsibleCodec {
	return &AnsibleCodec{}
}

// Format returns the codec format identifier
func (c *AnsibleCodec) Format() string {
	return "ansible-inventory"
}

// ansibleInventory represents the Ansible inventory structure
type ansibleInventory struct {
	All ansibleGroup `yaml:"all"`
}

type ansibleGroup struct {
	Children map[string]ansibleGroup `yaml:"children,omitempty"`
	Hosts    map[string]ansibleHost  `yaml:"hosts,omitempty"`
	Vars     map[string]interface{}  `yaml:"vars,omitempty"`
}

type ansibleHost struct {
	AnsibleHost string                 `yaml:"ansible_host,omitempty"`
	Vars        map[string]interface{} `yaml:",inline"`
}

// Export exports devices to Ansible inventory format. Down devices are
// included with status set so playbooks can filter on it.
func (c *AnsibleCodec) Export(devices []*domain.Device, w io.Writer) error {
	inv := ansibleInventory{
		All: ansibleGroup{
			Children: make(map[string]ansibleGroup),
		},
	}

	used := make(map[string]bool)
	for _, d := range sortDevices(devices) {
		siteName := groupName(d.Site)
		site, ok := inv.All.Children[siteName]
		if !ok {
			site = ansibleGroup{
				Children: make(map[string]ansibleGroup),
				Vars:     map[string]interface{}{"site": d.Site},
			}
		}

		childName := siteName + "_" + groupName(string(d.DeviceGroup))
		child, ok := site.Children[childName]
		if !ok {
			child = ansibleGroup{Hosts: make(map[string]ansibleHost)}
		}

		name := hostName(d, used)
		used[name] = true
		child.Hosts[name] = ansibleHost{
			AnsibleHost: d.Address,
			Vars: map[string]interface{}{
				"device_group": string(d.DeviceGroup),
				"status":       string(d.Status),
				"open_ports":   domain.NormalizePorts(d.OpenPorts),
			},
		}

		site.Children[childName] = child
		inv.All.Children[siteName] = site
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&inv); err != nil {
		return fmt.Errorf("failed to encode Ansible inventory: %w", err)
	}
	return nil
}

// groupName turns "Switch/Network" into "switch_network"
func groupName(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	name := strings.TrimSuffix(b.String(), "_")
	if name == "" {
		return "ungrouped"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "g_" + name
	}
	return name
}

// hostName prefers the hostname, falling back to the address. Inventory host
// names are global, so a repeat is qualified with its site.
func hostName(d *domain.Device, used map[string]bool) string {
	name := d.Hostname
	if name == "" {
		name = d.Address
	}
	if used[name] {
		name = groupName(d.Site) + "_" + d.Address
	}
	return name
}
