// Package tools binds the collaborator clients to the tool registry and
// assigns every tool its SAFEGUARD level. Registration happens once at
// server startup.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/widip/mcp-gateway/internal/clients"
	"github.com/widip/mcp-gateway/internal/mcp"
	"github.com/widip/mcp-gateway/internal/safeguard"
)

// Deps are the collaborators the tool handlers close over. Nil fields
// leave the corresponding tool family unregistered.
type Deps struct {
	GLPI      *clients.GLPIClient
	Observium *clients.ObserviumClient
	Directory *clients.DirectoryClient
	Mailer    *clients.Mailer
	Knowledge *clients.KnowledgeStore
	Notifier  *clients.Notifier
}

// Levels is the authoritative tool classification. Tools absent from this
// map are denied at execution time by the gate.
var Levels = map[string]safeguard.Level{
	// GLPI ticketing
	"glpi_search_new_tickets":   safeguard.L0,
	"glpi_get_ticket":           safeguard.L0,
	"glpi_create_ticket":        safeguard.L1,
	"glpi_add_followup":         safeguard.L1,
	"glpi_update_ticket_status": safeguard.L2,
	"glpi_close_ticket":         safeguard.L3,

	// Observium monitoring, all read-only
	"observium_get_device_status":  safeguard.L0,
	"observium_get_device_metrics": safeguard.L0,
	"observium_get_alerts":         safeguard.L0,

	// Directory service
	"ad_check_user":       safeguard.L0,
	"ad_get_user_info":    safeguard.L0,
	"ad_unlock_account":   safeguard.L2,
	"ad_enable_account":   safeguard.L2,
	"ad_move_to_ou":       safeguard.L2,
	"ad_reset_password":   safeguard.L3,
	"ad_disable_account":  safeguard.L3,
	"ad_copy_groups_from": safeguard.L3,
	"ad_create_user":      safeguard.L4,

	// Knowledge store
	"memory_search_similar_cases": safeguard.L0,
	"memory_add_knowledge":        safeguard.L1,

	// Notifications
	"notify_slack": safeguard.L1,
	"notify_teams": safeguard.L1,
	"notify_email": safeguard.L1,
}

// RegisterAll registers every tool whose collaborator is configured.
func RegisterAll(registry *mcp.Registry, deps Deps) error {
	groups := []func(*mcp.Registry, Deps) error{
		registerGLPI,
		registerObservium,
		registerDirectory,
		registerKnowledge,
		registerNotify,
	}
	for _, register := range groups {
		if err := register(registry, deps); err != nil {
			return err
		}
	}
	return nil
}

func registerGLPI(r *mcp.Registry, deps Deps) error {
	if deps.GLPI == nil {
		return nil
	}
	glpi := deps.GLPI

	tools := []*mcp.Tool{
		{
			Name:        "glpi_search_new_tickets",
			Description: "List tickets currently in the new status",
			Parameters: []mcp.Parameter{
				{Name: "limit", Type: mcp.TypeInteger, Description: "Maximum tickets to return", Default: float64(20)},
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				tickets, err := glpi.SearchNewTickets(ctx, intArg(args, "limit", 20))
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"count": len(tickets), "tickets": tickets}, nil
			},
		},
		{
			Name:        "glpi_get_ticket",
			Description: "Fetch one ticket by id",
			Parameters: []mcp.Parameter{
				mcp.IntParam("ticket_id", "Ticket identifier", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				ticket, err := glpi.GetTicket(ctx, intArg(args, "ticket_id", 0))
				if err != nil {
					return nil, externalErr(err)
				}
				return ticket, nil
			},
		},
		{
			Name:        "glpi_create_ticket",
			Description: "Open a new ticket",
			Parameters: []mcp.Parameter{
				mcp.StringParam("title", "Ticket title", true),
				mcp.StringParam("content", "Ticket body", true),
				{Name: "priority", Type: mcp.TypeInteger, Description: "1 (lowest) to 5 (highest)", Default: float64(3)},
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				id, err := glpi.CreateTicket(ctx, stringArg(args, "title"), stringArg(args, "content"), intArg(args, "priority", 3))
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"ticket_id": id}, nil
			},
		},
		{
			Name:        "glpi_add_followup",
			Description: "Append a followup comment to a ticket",
			Parameters: []mcp.Parameter{
				mcp.IntParam("ticket_id", "Ticket identifier", true),
				mcp.StringParam("content", "Followup text", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := glpi.AddFollowup(ctx, intArg(args, "ticket_id", 0), stringArg(args, "content")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"added": true}, nil
			},
		},
		{
			Name:        "glpi_update_ticket_status",
			Description: "Change a ticket's status code",
			Parameters: []mcp.Parameter{
				mcp.IntParam("ticket_id", "Ticket identifier", true),
				mcp.IntParam("status", "GLPI status code (1=new, 2=processing, 4=pending, 5=solved, 6=closed)", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := glpi.UpdateTicketStatus(ctx, intArg(args, "ticket_id", 0), intArg(args, "status", 0)); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"updated": true}, nil
			},
		},
		{
			Name:        "glpi_close_ticket",
			Description: "Close a ticket with a resolution note",
			Parameters: []mcp.Parameter{
				mcp.IntParam("ticket_id", "Ticket identifier", true),
				mcp.StringParam("solution", "Resolution text recorded before closing", false),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := glpi.CloseTicket(ctx, intArg(args, "ticket_id", 0), stringArg(args, "solution")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"closed": true}, nil
			},
		},
	}
	return registerTools(r, tools)
}

func registerObservium(r *mcp.Registry, deps Deps) error {
	if deps.Observium == nil {
		return nil
	}
	obs := deps.Observium

	tools := []*mcp.Tool{
		{
			Name:        "observium_get_device_status",
			Description: "Current status of a monitored device",
			Parameters: []mcp.Parameter{
				mcp.StringParam("device_name", "Device hostname", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				device, err := obs.DeviceStatus(ctx, stringArg(args, "device_name"))
				if err != nil {
					return nil, externalErr(err)
				}
				return device, nil
			},
		},
		{
			Name:        "observium_get_device_metrics",
			Description: "Port counters for a device",
			Parameters: []mcp.Parameter{
				mcp.IntParam("device_id", "Observium device id", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				metrics, err := obs.DeviceMetrics(ctx, intArg(args, "device_id", 0))
				if err != nil {
					return nil, externalErr(err)
				}
				return metrics, nil
			},
		},
		{
			Name:        "observium_get_alerts",
			Description: "Alerts currently failing",
			Handler: func(ctx context.Context, _ *mcp.CallContext, _ map[string]any) (any, error) {
				alerts, err := obs.ActiveAlerts(ctx)
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"count": len(alerts), "alerts": alerts}, nil
			},
		},
	}
	return registerTools(r, tools)
}

func registerDirectory(r *mcp.Registry, deps Deps) error {
	if deps.Directory == nil {
		return nil
	}
	dir := deps.Directory

	tools := []*mcp.Tool{
		{
			Name:        "ad_check_user",
			Description: "Check whether a directory account exists",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				exists, err := dir.CheckUser(ctx, stringArg(args, "username"))
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"exists": exists}, nil
			},
		},
		{
			Name:        "ad_get_user_info",
			Description: "Directory account attributes",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				user, err := dir.GetUserInfo(ctx, stringArg(args, "username"))
				if err != nil {
					return nil, externalErr(err)
				}
				return user, nil
			},
		},
		{
			Name:        "ad_unlock_account",
			Description: "Clear an account lockout",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := dir.UnlockAccount(ctx, stringArg(args, "username")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"unlocked": true}, nil
			},
		},
		{
			Name:        "ad_reset_password",
			Description: "Set a new account password",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
				mcp.StringParam("new_password", "Replacement password", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := dir.ResetPassword(ctx, stringArg(args, "username"), stringArg(args, "new_password")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"reset": true}, nil
			},
		},
		{
			Name:        "ad_disable_account",
			Description: "Disable a directory account",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := dir.DisableAccount(ctx, stringArg(args, "username")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"disabled": true}, nil
			},
		},
		{
			Name:        "ad_enable_account",
			Description: "Re-enable a directory account",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := dir.EnableAccount(ctx, stringArg(args, "username")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"enabled": true}, nil
			},
		},
		{
			Name:        "ad_move_to_ou",
			Description: "Move an account to another organizational unit",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
				mcp.StringParam("target_ou", "Destination OU distinguished name", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := dir.MoveToOU(ctx, stringArg(args, "username"), stringArg(args, "target_ou")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"moved": true}, nil
			},
		},
		{
			Name:        "ad_copy_groups_from",
			Description: "Copy group memberships from one account to another",
			Parameters: []mcp.Parameter{
				mcp.StringParam("source_user", "Account to copy from", true),
				mcp.StringParam("target_user", "Account to copy to", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				groups, err := dir.CopyGroupsFrom(ctx, stringArg(args, "source_user"), stringArg(args, "target_user"))
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"copied": len(groups), "groups": groups}, nil
			},
		},
		{
			// L4: the gate blocks this unconditionally; the handler exists
			// only so discovery shows the full surface.
			Name:        "ad_create_user",
			Description: "Create a directory account (forbidden for autonomous callers)",
			Parameters: []mcp.Parameter{
				mcp.StringParam("username", "sAMAccountName", true),
				mcp.StringParam("display_name", "Display name", true),
			},
			Handler: func(_ context.Context, _ *mcp.CallContext, _ map[string]any) (any, error) {
				return nil, fmt.Errorf("ad_create_user is forbidden")
			},
		},
	}
	return registerTools(r, tools)
}

func registerKnowledge(r *mcp.Registry, deps Deps) error {
	if deps.Knowledge == nil {
		return nil
	}
	kb := deps.Knowledge

	tools := []*mcp.Tool{
		{
			Name:        "memory_search_similar_cases",
			Description: "Search resolved cases similar to a problem description",
			Parameters: []mcp.Parameter{
				mcp.StringParam("query", "Problem description", true),
				{Name: "limit", Type: mcp.TypeInteger, Description: "Maximum cases to return", Default: float64(5)},
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				cases, err := kb.SearchSimilar(ctx, stringArg(args, "query"), intArg(args, "limit", 5))
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"count": len(cases), "cases": cases}, nil
			},
		},
		{
			Name:        "memory_add_knowledge",
			Description: "Store a resolved case in the knowledge base",
			Parameters: []mcp.Parameter{
				mcp.StringParam("title", "Case title", true),
				mcp.StringParam("problem", "Problem description", true),
				mcp.StringParam("resolution", "What resolved it", true),
			},
			Handler: func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				id, err := kb.AddCase(ctx, clients.Case{
					Title:      stringArg(args, "title"),
					Problem:    stringArg(args, "problem"),
					Resolution: stringArg(args, "resolution"),
				})
				if err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"case_id": id}, nil
			},
		},
	}
	return registerTools(r, tools)
}

func registerNotify(r *mcp.Registry, deps Deps) error {
	var tools []*mcp.Tool

	if deps.Notifier != nil {
		notifier := deps.Notifier
		notifyHandler := func(ctx context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
			notifier.Notify(stringArg(args, "title"), stringArg(args, "message"))
			return map[string]any{"queued": true}, nil
		}
		notifyParams := []mcp.Parameter{
			mcp.StringParam("title", "Notice title", true),
			mcp.StringParam("message", "Notice body", true),
		}
		tools = append(tools,
			&mcp.Tool{Name: "notify_slack", Description: "Post a notice to the Slack channel", Parameters: notifyParams, Handler: notifyHandler},
			&mcp.Tool{Name: "notify_teams", Description: "Post a notice to the Teams channel", Parameters: notifyParams, Handler: notifyHandler},
		)
	}

	if deps.Mailer != nil {
		mailer := deps.Mailer
		tools = append(tools, &mcp.Tool{
			Name:        "notify_email",
			Description: "Send a plain-text email",
			Parameters: []mcp.Parameter{
				mcp.StringParam("to", "Recipient address", true),
				mcp.StringParam("subject", "Subject line", true),
				mcp.StringParam("body", "Message body", true),
			},
			Handler: func(_ context.Context, _ *mcp.CallContext, args map[string]any) (any, error) {
				if err := mailer.Send([]string{stringArg(args, "to")}, stringArg(args, "subject"), stringArg(args, "body")); err != nil {
					return nil, externalErr(err)
				}
				return map[string]any{"sent": true}, nil
			},
		})
	}

	return registerTools(r, tools)
}

func registerTools(r *mcp.Registry, tools []*mcp.Tool) error {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// externalErr maps a collaborator failure to the external-API code so the
// dispatcher does not classify it as a generic execution error.
func externalErr(err error) error {
	var apiErr *clients.APIError
	if errors.As(err, &apiErr) {
		return &mcp.ErrorObj{
			Code:    mcp.CodeExternalAPI,
			Message: apiErr.Error(),
			Data:    map[string]any{"service": apiErr.Service, "status": apiErr.StatusCode},
		}
	}
	return err
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
