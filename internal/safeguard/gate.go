package safeguard

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/widip/mcp-gateway/internal/metrics"
)

// Decision is the gate's verdict for one call.
type Decision struct {
	Allowed       bool   `json:"allowed"`
	Level         Level  `json:"-"`
	LevelName     string `json:"level"`
	Message       string `json:"message"`
	RequiresHuman bool   `json:"requires_human,omitempty"`
	ApprovalHint  string `json:"approval_hint,omitempty"`
}

// Notifier receives out-of-band notices for L2 executions and approval
// lifecycle events. Implementations must not block the caller.
type Notifier interface {
	Notify(title, message string)
}

// Gate evaluates the SAFEGUARD decision table. Decisions are pure given the
// gate's configuration; the only side effects are the L2 warn log and
// notification.
type Gate struct {
	enabled  bool
	levels   map[string]Level
	notifier Notifier
}

// NewGate builds a gate over a tool→level classification. notifier may be
// nil.
func NewGate(enabled bool, levels map[string]Level, notifier Notifier) *Gate {
	return &Gate{enabled: enabled, levels: levels, notifier: notifier}
}

// LevelOf returns the classification for a tool. Unknown tools report L0
// for discovery purposes; Check still denies their execution.
func (g *Gate) LevelOf(tool string) Level {
	if level, ok := g.levels[tool]; ok {
		return level
	}
	return L0
}

// Check runs the decision table for one call. confidence is the
// caller-supplied value in [0,100]; callers that omit it pass 100.
func (g *Gate) Check(tool string, confidence float64) Decision {
	decision := g.decide(tool, confidence)
	metrics.SafeguardDecisions.WithLabelValues(decision.LevelName, strconv.FormatBool(decision.Allowed)).Inc()

	if decision.Allowed && decision.Level == L2 && g.enabled {
		slog.Warn("L2 operation executing", "tool", tool, "confidence", confidence)
		if g.notifier != nil {
			g.notifier.Notify("SAFEGUARD L2", fmt.Sprintf("Moderate action %s executed automatically", tool))
		}
	}
	return decision
}

// decide is the pure decision table, checked in order.
func (g *Gate) decide(tool string, confidence float64) Decision {
	if !g.enabled {
		return Decision{Allowed: true, Level: L0, LevelName: L0.String(), Message: "SAFEGUARD disabled"}
	}

	level, known := g.levels[tool]
	if !known {
		return Decision{
			Level:         L3,
			LevelName:     L3.String(),
			Message:       fmt.Sprintf("unknown tool %s denied by precaution", tool),
			RequiresHuman: true,
		}
	}

	switch level {
	case L0:
		return Decision{Allowed: true, Level: L0, LevelName: L0.String(), Message: "read-only operation"}
	case L1:
		if confidence >= ConfidenceThreshold {
			return Decision{Allowed: true, Level: L1, LevelName: L1.String(), Message: "minor action, confidence sufficient"}
		}
		return Decision{
			Level:         L1,
			LevelName:     L1.String(),
			Message:       fmt.Sprintf("confidence %.0f below threshold %.0f", confidence, ConfidenceThreshold),
			RequiresHuman: true,
			ApprovalHint:  "re-check the request and retry with higher confidence",
		}
	case L2:
		return Decision{Allowed: true, Level: L2, LevelName: L2.String(), Message: "moderate action, notification emitted"}
	case L3:
		return Decision{
			Level:         L3,
			LevelName:     L3.String(),
			Message:       fmt.Sprintf("sensitive action %s requires human approval", tool),
			RequiresHuman: true,
			ApprovalHint:  "POST /safeguard/request to enter the approval queue",
		}
	case L4:
		return Decision{
			Level:     L4,
			LevelName: L4.String(),
			Message:   fmt.Sprintf("operation %s is forbidden", tool),
		}
	}

	return Decision{
		Level:         level,
		LevelName:     level.String(),
		Message:       "unrecognized security level",
		RequiresHuman: true,
	}
}

// Enabled reports whether the gate is active.
func (g *Gate) Enabled() bool { return g.enabled }
