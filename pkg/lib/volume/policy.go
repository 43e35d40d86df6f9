package volume

import (
	"strings"
	"time"

	"github.com/antler-hat/devolume/pkg/lib"
)

// Policy decides which mounts are offered for ejection.
type Policy struct {
	// ExternalRoots are the directories removable media are mounted under.
	// A candidate must start with one of them.
	ExternalRoots []string
	// ReservedPrefixes are never offered, even under an external root.
	ReservedPrefixes []string
	// RequireExternalBus additionally requires the mount's bus protocol to
	// contain one of BusPatterns, case-insensitively.
	RequireExternalBus bool
	BusPatterns        []string
}

// DefaultPolicy returns the platform's mount layout with the bus filter off.
func DefaultPolicy() Policy {
	return Policy{
		ExternalRoots:    append([]string(nil), defaultExternalRoots...),
		ReservedPrefixes: append([]string(nil), defaultReservedPrefixes...),
		BusPatterns:      []string{"usb"},
	}
}

// admitsMount applies every filter that does not need the ProcessRunner.
// Filters run in order and the first match excludes the mount.
func (p Policy) admitsMount(m lib.Mount) bool {
	if m.IsRoot || m.Path == "/" {
		return false
	}
	if hasAnyPrefix(m.Path, p.ReservedPrefixes) {
		return false
	}
	if !hasAnyPrefix(m.Path, p.ExternalRoots) {
		return false
	}
	return !m.Internal || m.Removable || m.Ejectable
}

func (p Policy) admitsBus(protocol string) bool {
	protocol = strings.ToLower(protocol)
	for _, pattern := range p.BusPatterns {
		if pattern != "" && strings.Contains(protocol, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RetryPolicy is the eject retry schedule. The delay before attempt n+1 is
// min(InitialDelay * Multiplier^(n-1), MaxDelay).
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy allows four attempts with 400ms, 600ms and 900ms pauses.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:     4,
		InitialDelay: 400 * time.Millisecond,
		Multiplier:   1.5,
		MaxDelay:     2 * time.Second,
	}
}
