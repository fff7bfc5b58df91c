// Package node describes the observable state of a remote host as reported by
// the environment. Snapshots are read-only values; the orchestrator re-queries
// them every tick and never writes them back.
package node

import (
	"fmt"
	"strings"
)

// Port identifies one of the five capability slots a host exposes.
type Port uint8

const (
	PortSSH Port = iota
	PortFTP
	PortSMTP
	PortHTTP
	PortSQL
)

// AllPorts lists every port in display order.
var AllPorts = []Port{PortSSH, PortFTP, PortSMTP, PortHTTP, PortSQL}

var portNames = map[Port]string{
	PortSSH:  "SSH",
	PortFTP:  "FTP",
	PortSMTP: "SMTP",
	PortHTTP: "HTTP",
	PortSQL:  "SQL",
}

func (p Port) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("port(%d)", uint8(p))
}

// ParsePort resolves a case-insensitive port name.
func ParsePort(name string) (Port, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(name))
	for port, label := range portNames {
		if label == trimmed {
			return port, nil
		}
	}
	return 0, fmt.Errorf("node: unknown port %q", name)
}

// PortSet is a bitmask of open ports.
type PortSet uint8

// PortsOf builds a set from the provided ports.
func PortsOf(ports ...Port) PortSet {
	var set PortSet
	for _, p := range ports {
		set = set.With(p)
	}
	return set
}

// Has reports whether p is open.
func (s PortSet) Has(p Port) bool {
	return s&(1<<p) != 0
}

// With returns a copy of the set with p marked open.
func (s PortSet) With(p Port) PortSet {
	return s | 1<<p
}

// Count returns how many ports are open.
func (s PortSet) Count() int {
	count := 0
	for _, p := range AllPorts {
		if s.Has(p) {
			count++
		}
	}
	return count
}

// Ports returns the open ports in display order.
func (s PortSet) Ports() []Port {
	var out []Port
	for _, p := range AllPorts {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

func (s PortSet) String() string {
	ports := s.Ports()
	if len(ports) == 0 {
		return "none"
	}
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return strings.Join(names, ",")
}

// Snapshot is one read of a host's attributes.
type Snapshot struct {
	Hostname         string  `json:"hostname"`
	Organization     string  `json:"organization,omitempty"`
	SecurityLevel    float64 `json:"securityLevel"`
	MinSecurityLevel float64 `json:"minSecurityLevel"`
	MoneyAvailable   float64 `json:"moneyAvailable"`
	MaxMoney         float64 `json:"maxMoney"`
	RequiredSkill    int     `json:"requiredSkill"`
	OpenPorts        PortSet `json:"openPorts"`
	PortsRequired    int     `json:"portsRequired"`
	AdminRights      bool    `json:"adminRights"`
	Purchased        bool    `json:"purchased"`
	MaxRAM           float64 `json:"maxRam"`
	UsedRAM          float64 `json:"usedRam"`
}

// OpenPortCount returns the number of open ports.
func (s Snapshot) OpenPortCount() int {
	return s.OpenPorts.Count()
}

// PortsSatisfied reports whether enough ports are open for privilege elevation.
func (s Snapshot) PortsSatisfied() bool {
	return s.OpenPortCount() >= s.PortsRequired
}

// FreeRAM returns unused memory, never negative.
func (s Snapshot) FreeRAM() float64 {
	free := s.MaxRAM - s.UsedRAM
	if free < 0 {
		return 0
	}
	return free
}
