package resilience

import (
	"fmt"
	"strings"
)

// Priority orders deferred work. Lower values are served first.
type Priority int

const (
	// PriorityCritical is served before anything else.
	PriorityCritical Priority = iota
	// PriorityHigh is user-facing work.
	PriorityHigh
	// PriorityNormal is the default for unknown operations.
	PriorityNormal
	// PriorityLow is work that tolerates delay.
	PriorityLow
	// PriorityBackground only consumes leftover capacity.
	PriorityBackground
)

// Priorities lists every level from highest to lowest.
var Priorities = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityNormal,
	PriorityLow,
	PriorityBackground,
}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// ParsePriority parses a priority name.
func ParsePriority(s string) (Priority, error) {
	for _, p := range Priorities {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// PriorityResolver maps an operation name to a priority.
type PriorityResolver interface {
	Resolve(operation string) Priority
}

// PriorityResolverFunc adapts a function to PriorityResolver.
type PriorityResolverFunc func(operation string) Priority

// Resolve calls f.
func (f PriorityResolverFunc) Resolve(operation string) Priority { return f(operation) }

// PriorityTable is a static operation name to priority table. Names not in the
// table resolve to PriorityNormal. Lookups fall back to the lower-cased name,
// matching tables loaded from configuration files whose keys are lower-cased.
type PriorityTable map[string]Priority

// Resolve looks up operation.
func (t PriorityTable) Resolve(operation string) Priority {
	p, ok := t[operation]
	if !ok {
		p, ok = t[strings.ToLower(operation)]
	}
	if ok && p.Valid() {
		return p
	}
	return PriorityNormal
}

// ParsePriorityTable builds a table from names, as loaded from configuration.
// Operation names are stored lower-cased.
func ParsePriorityTable(raw map[string]string) (PriorityTable, error) {
	table := make(PriorityTable, len(raw))
	for op, name := range raw {
		p, err := ParsePriority(name)
		if err != nil {
			return nil, fmt.Errorf("operation %s: %w", op, err)
		}
		table[strings.ToLower(op)] = p
	}
	return table, nil
}
