// Package version handles protocol version negotiation and payload
// conversion between envelope versions.
package version

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/c360/agentmesh/errors"
)

// Info describes one supported protocol version.
type Info struct {
	Version            string   `json:"version"`
	CompatibleVersions []string `json:"compatible_versions,omitempty"`
	BreakingChanges    []string `json:"breaking_changes,omitempty"`
}

// Compatibility is one edge of the compatibility matrix.
type Compatibility struct {
	IsCompatible     bool
	ConversionNeeded bool
	converterKey     string
}

// Converter transforms a payload from one version's shape to another's.
type Converter func(payload json.RawMessage) (json.RawMessage, error)

// Manager owns the supported-version set, the compatibility matrix, and
// the registered converters.
type Manager struct {
	mu         sync.RWMutex
	supported  map[string]Info
	matrix     map[string]map[string]Compatibility
	converters map[string]Converter
}

// NewManager creates a manager with the given supported versions. Each
// version is marked compatible with itself; cross-version edges come from
// the CompatibleVersions lists and conversion registrations.
func NewManager(versions ...Info) *Manager {
	m := &Manager{
		supported:  make(map[string]Info),
		matrix:     make(map[string]map[string]Compatibility),
		converters: make(map[string]Converter),
	}
	for _, v := range versions {
		m.AddVersion(v)
	}
	return m
}

// AddVersion registers a supported version and its compatibility edges.
func (m *Manager) AddVersion(info Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.supported[info.Version] = info
	m.setEdge(info.Version, info.Version, Compatibility{IsCompatible: true})
	for _, other := range info.CompatibleVersions {
		m.setEdge(info.Version, other, Compatibility{IsCompatible: true})
		m.setEdge(other, info.Version, Compatibility{IsCompatible: true})
	}
}

// setEdge must be called with the write lock held.
func (m *Manager) setEdge(from, to string, c Compatibility) {
	if m.matrix[from] == nil {
		m.matrix[from] = make(map[string]Compatibility)
	}
	m.matrix[from][to] = c
}

// RegisterConverter registers a payload converter for the from→to edge and
// marks the edge as compatible-with-conversion.
func (m *Manager) RegisterConverter(from, to string, fn Converter) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := converterKey(from, to)
	m.converters[key] = fn
	m.setEdge(from, to, Compatibility{
		IsCompatible:     true,
		ConversionNeeded: true,
		converterKey:     key,
	})
}

func converterKey(from, to string) string {
	return from + "->" + to
}

// Supported reports whether a version is in the supported set.
func (m *Manager) Supported(v string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.supported[v]
	return ok
}

// Compatible returns the compatibility edge between two versions.
func (m *Manager) Compatible(from, to string) Compatibility {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matrix[from][to]
}

// Negotiate picks the version two peers should speak. Both versions must
// be individually supported and mutually compatible; the result is the
// semantically lower of the two. An unparsable version falls back to the
// client's.
func (m *Manager) Negotiate(clientVersion, serverVersion string) (string, error) {
	if !m.Supported(clientVersion) {
		return "", errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Negotiate",
			"client version "+clientVersion+" not supported")
	}
	if !m.Supported(serverVersion) {
		return "", errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Negotiate",
			"server version "+serverVersion+" not supported")
	}
	if !m.Compatible(clientVersion, serverVersion).IsCompatible {
		return "", errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Negotiate",
			fmt.Sprintf("versions %s and %s are not compatible", clientVersion, serverVersion))
	}

	// A version that does not parse numerically cannot be ordered, so
	// the negotiation keeps the client's.
	if !numeric(clientVersion) || !numeric(serverVersion) {
		return clientVersion, nil
	}

	if Compare(clientVersion, serverVersion) <= 0 {
		return clientVersion, nil
	}
	return serverVersion, nil
}

// Convert transforms a payload between versions. Identity edges pass the
// payload through; conversion edges apply the registered converter; a
// missing converter is a hard error, never a best-effort pass-through.
func (m *Manager) Convert(payload json.RawMessage, from, to string) (json.RawMessage, error) {
	if from == to {
		return payload, nil
	}

	edge := m.Compatible(from, to)
	if !edge.IsCompatible {
		return nil, errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Convert",
			fmt.Sprintf("no compatibility from %s to %s", from, to))
	}
	if !edge.ConversionNeeded {
		return payload, nil
	}

	m.mu.RLock()
	fn, ok := m.converters[edge.converterKey]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Convert",
			"no converter registered for "+converterKey(from, to))
	}

	out, err := fn(payload)
	if err != nil {
		return nil, errors.WrapInvalid(errors.ErrVersionIncompatible, "Manager", "Convert",
			"converter "+converterKey(from, to)+" failed")
	}
	return out, nil
}

// numeric reports whether every dotted segment of v parses as an integer.
func numeric(v string) bool {
	for _, s := range strings.Split(v, ".") {
		if _, err := strconv.Atoi(s); err != nil {
			return false
		}
	}
	return true
}

// Compare orders two dotted numeric versions: -1 if a < b, 0 if equal,
// +1 if a > b. A non-numeric segment compares lower than any numeric one;
// two non-numeric segments compare lexically.
func Compare(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}

		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		switch {
		case errA == nil && errB == nil:
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
		case errA != nil && errB == nil:
			return -1
		case errA == nil && errB != nil:
			return 1
		default:
			if sa != sb {
				if sa < sb {
					return -1
				}
				return 1
			}
		}
	}
	return 0
}
