package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/state"
)

// TicketTriage handles a newly created ticket: looks up similar resolved
// cases in the knowledge base and posts them as a followup so the
// technician starts with context. Runs off the ticketing webhook.
//
// It refuses to run while the upstream is down; the health monitor's
// status value is the circuit breaker.
type TicketTriage struct {
	Base

	Client *Client
	Store  state.Store
}

func (t *TicketTriage) Name() string        { return "ticket_triage" }
func (t *TicketTriage) Description() string { return "Attach similar resolved cases to new tickets" }
func (t *TicketTriage) Timeout() time.Duration {
	return 2 * time.Minute
}
func (t *TicketTriage) SafeguardLevel() string { return safeguard.L1.String() }

func (t *TicketTriage) Validate(ctx context.Context, wc *Context) error {
	status, err := t.Store.HealthStatus(ctx, "glpi")
	if err != nil {
		return fmt.Errorf("read upstream status: %w", err)
	}
	if status == state.HealthDown {
		return &ValidationError{Workflow: t.Name(), Reason: "upstream glpi is down"}
	}

	if _, ok := ticketID(wc.Trigger); !ok {
		return &ValidationError{Workflow: t.Name(), Reason: "trigger payload has no ticket_id"}
	}
	return nil
}

func (t *TicketTriage) Execute(ctx context.Context, wc *Context) (map[string]any, error) {
	id, _ := ticketID(wc.Trigger)

	// One triage per ticket per day; the diag cache is the dedup record.
	today := time.Now().UTC().Format("2006-01-02")
	device := fmt.Sprintf("ticket-%d", id)
	var cached map[string]any
	if err := t.Store.GetDiagnostic(ctx, device, today, &cached); err == nil {
		return map[string]any{"ticket_id": id, "skipped": true, "reason": "already triaged today"}, nil
	}

	ticket, err := t.Client.CallTool(ctx, wc, "glpi_get_ticket", map[string]any{"ticket_id": id}, -1)
	if err != nil {
		return nil, err
	}

	title := ""
	if m, ok := ticket.(map[string]any); ok {
		title, _ = m["name"].(string)
	}
	if title == "" {
		title = fmt.Sprintf("ticket %d", id)
	}

	similar, err := t.Client.CallTool(ctx, wc, "memory_search_similar_cases",
		map[string]any{"query": title, "limit": float64(3)}, -1)
	if err != nil {
		return nil, err
	}

	count := 0
	if m, ok := similar.(map[string]any); ok {
		if c, ok := m["count"].(float64); ok {
			count = int(c)
		}
	}
	if count > 0 {
		followup := fmt.Sprintf("Knowledge base found %d similar resolved case(s) for %q.", count, title)
		if _, err := t.Client.CallTool(ctx, wc, "glpi_add_followup",
			map[string]any{"ticket_id": float64(id), "content": followup}, 90); err != nil {
			return nil, err
		}
	}

	summary := map[string]any{"ticket_id": id, "similar_cases": count, "skipped": false}
	if err := t.Store.SetDiagnostic(ctx, device, today, summary); err != nil {
		return nil, fmt.Errorf("record triage: %w", err)
	}
	return summary, nil
}

func ticketID(trigger map[string]any) (int, bool) {
	payload, _ := trigger["payload"].(map[string]any)
	if payload == nil {
		return 0, false
	}
	switch v := payload["ticket_id"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
