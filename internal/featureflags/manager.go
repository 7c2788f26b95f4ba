// Package featureflags evaluates the FEATURE_FLAGS setting.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flags read by the engine.
const (
	OrphanReaper   = "orphan_reaper"
	ToggleDebounce = "toggle_debounce"
)

// Manager evaluates feature flags defined in a simple key=value list.
// Example: "orphan_reaper=on,toggle_debounce=25%"
type Manager struct {
	flags map[string]string
}

// NewManager creates a feature-flag manager from a comma-separated config string.
func NewManager(raw string) *Manager {
	out := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := normalize(parts[0])
		value := normalize(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled returns whether a flag is enabled for a given actor.
// Supported values:
// - on/true/1
// - off/false/0
// - N% (deterministic actor rollout, e.g. 25%)
func (m *Manager) Enabled(name string, actorID string) bool {
	if m == nil {
		return false
	}

	value, ok := m.flags[normalize(name)]
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	if strings.HasSuffix(value, "%") {
		pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
		if err != nil {
			return false
		}
		if pct <= 0 {
			return false
		}
		if pct >= 100 {
			return true
		}
		if actorID == "" {
			return false
		}
		return rolloutBucket(name, actorID) < pct
	}

	return false
}

// EnabledGlobally reports whether a flag is on for work that has no actor,
// such as background sweeps. Percentage rollouts count as off.
func (m *Manager) EnabledGlobally(name string) bool {
	return m.Enabled(name, "")
}

// Raw returns a copy of configured flags.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string, len(m.flags))
	for k, v := range m.flags {
		out[k] = v
	}
	return out
}

// Snapshot returns evaluated flag status for one actor.
func (m *Manager) Snapshot(actorID string) map[string]bool {
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, actorID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name string, actorID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + actorID))
	return int(h.Sum32() % 100)
}
