// Package safeguard implements the SAFEGUARD access gate and the durable
// human-approval queue. The gate classifies every tool into one of five
// levels and decides allow, notify, queue-for-approval or deny before
// dispatch; the queue persists L3 operations until a human resolves them.
package safeguard

import "fmt"

// Level is a SAFEGUARD classification, L0 (read-only) through L4
// (forbidden).
type Level int

const (
	L0 Level = iota // read-only, always allowed
	L1              // minor mutation, requires confidence >= 80
	L2              // moderate mutation, allowed with notification
	L3              // sensitive mutation, human approval required
	L4              // forbidden, never executed
)

// ConfidenceThreshold is the minimum caller confidence for L1 auto-execution.
const ConfidenceThreshold = 80.0

// String returns the wire form ("L0".."L4").
func (l Level) String() string {
	if l < L0 || l > L4 {
		return fmt.Sprintf("L?(%d)", int(l))
	}
	return [...]string{"L0", "L1", "L2", "L3", "L4"}[l]
}

// Description returns the human-readable level description used in tool
// discovery payloads.
func (l Level) Description() string {
	switch l {
	case L0:
		return "Read-only, executed automatically"
	case L1:
		return "Minor action, executed when confidence >= 80%"
	case L2:
		return "Moderate action, executed with notification"
	case L3:
		return "Sensitive action, human approval required"
	case L4:
		return "Forbidden, never executed"
	}
	return "Unknown"
}

// ParseLevel converts the wire form back to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "L0":
		return L0, nil
	case "L1":
		return L1, nil
	case "L2":
		return L2, nil
	case "L3":
		return L3, nil
	case "L4":
		return L4, nil
	}
	return L0, fmt.Errorf("unknown security level: %q", s)
}
