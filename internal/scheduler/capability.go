package scheduler

import (
	"fmt"
	"math/bits"
	"strings"
)

// Capability is a bit set describing what kinds of tasks an agent may
// accept. The queue only compares bit sets; it never interprets them.
type Capability uint64

const (
	CapBuild Capability = 1 << iota
	CapFix
	CapAnalyze
	CapInstall
	CapExecute
	CapModify
	CapQuery
	CapNetwork
	CapWrite
)

var capabilityNames = []struct {
	name string
	bit  Capability
}{
	{"build", CapBuild},
	{"fix", CapFix},
	{"analyze", CapAnalyze},
	{"install", CapInstall},
	{"execute", CapExecute},
	{"modify", CapModify},
	{"query", CapQuery},
	{"network", CapNetwork},
	{"write", CapWrite},
}

// CapAll is every named capability.
const CapAll = CapBuild | CapFix | CapAnalyze | CapInstall | CapExecute | CapModify | CapQuery | CapNetwork | CapWrite

// ParseCapabilities turns capability names into a bit set. "all" selects
// every named capability.
func ParseCapabilities(names []string) (Capability, error) {
	var c Capability
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "all" {
			c |= CapAll
			continue
		}
		bit, ok := lookupCapability(name)
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", raw)
		}
		c |= bit
	}
	return c, nil
}

func lookupCapability(name string) (Capability, bool) {
	for _, n := range capabilityNames {
		if n.name == name {
			return n.bit, true
		}
	}
	return 0, false
}

// Has reports whether every bit in req is present in c.
func (c Capability) Has(req Capability) bool {
	return req&^c == 0
}

// Count returns the number of set bits.
func (c Capability) Count() int {
	return bits.OnesCount64(uint64(c))
}

func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	rest := c
	for _, n := range capabilityNames {
		if c&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint64(rest)))
	}
	return strings.Join(parts, "|")
}
