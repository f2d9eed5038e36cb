package nodeid

import (
	"os"
	"strings"
)

// Fallback is used when the host name cannot be determined.
const Fallback = "unknown-host"

var hostname = os.Hostname

// Resolve returns the host name of the machine, which is stable across
// restarts. Two hosts with the same name resolve to the same id.
func Resolve() string {
	name, err := hostname()
	if err != nil {
		return Fallback
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Fallback
	}
	return name
}

// ResolveWith returns override when set, otherwise Resolve().
func ResolveWith(override string) string {
	if id := strings.TrimSpace(override); id != "" {
		return id
	}
	return Resolve()
}
