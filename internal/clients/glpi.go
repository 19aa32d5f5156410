package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// GLPIClient talks to the GLPI ticketing REST API. Every call opens a
// session with the app and user tokens, performs the operation, and closes
// the session.
type GLPIClient struct {
	baseURL    string
	appToken   string
	userToken  string
	httpClient *http.Client
}

// NewGLPIClient builds a client for the GLPI apirest endpoint.
func NewGLPIClient(baseURL, appToken, userToken string) *GLPIClient {
	return &GLPIClient{
		baseURL:    baseURL,
		appToken:   appToken,
		userToken:  userToken,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Ticket is the subset of GLPI ticket fields the tools expose.
type Ticket struct {
	ID       int    `json:"id"`
	Title    string `json:"name"`
	Content  string `json:"content"`
	Status   int    `json:"status"`
	Priority int    `json:"priority"`
	Date     string `json:"date"`
}

// GLPI ticket status codes.
const (
	TicketStatusNew        = 1
	TicketStatusProcessing = 2
	TicketStatusPending    = 4
	TicketStatusSolved     = 5
	TicketStatusClosed     = 6
)

// InitSession opens a GLPI session and returns the session token. The
// health monitor also uses this as its liveness probe.
func (c *GLPIClient) InitSession(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/initSession", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("App-Token", c.appToken)
	req.Header.Set("Authorization", "user_token "+c.userToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("glpi session init: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp)
	}
	var body struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("glpi session decode: %w", err)
	}
	return body.SessionToken, nil
}

func (c *GLPIClient) killSession(token string) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/killSession", nil)
	if err != nil {
		return
	}
	req.Header.Set("App-Token", c.appToken)
	req.Header.Set("Session-Token", token)
	if resp, err := c.httpClient.Do(req); err == nil {
		resp.Body.Close()
	}
}

// do runs one session-scoped request and decodes the JSON response into out.
func (c *GLPIClient) do(ctx context.Context, method, path string, payload any, out any) error {
	token, err := c.InitSession(ctx)
	if err != nil {
		return err
	}
	defer c.killSession(token)

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("glpi encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("App-Token", c.appToken)
	req.Header.Set("Session-Token", token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("glpi %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.apiError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// SearchNewTickets returns tickets in the "new" status.
func (c *GLPIClient) SearchNewTickets(ctx context.Context, limit int) ([]Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("criteria[0][field]", "12") // status field
	q.Set("criteria[0][searchtype]", "equals")
	q.Set("criteria[0][value]", strconv.Itoa(TicketStatusNew))
	q.Set("range", fmt.Sprintf("0-%d", limit-1))

	var tickets []Ticket
	if err := c.do(ctx, http.MethodGet, "/Ticket?"+q.Encode(), nil, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// GetTicket fetches one ticket by id.
func (c *GLPIClient) GetTicket(ctx context.Context, id int) (*Ticket, error) {
	var ticket Ticket
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/Ticket/%d", id), nil, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// CreateTicket opens a ticket and returns its id.
func (c *GLPIClient) CreateTicket(ctx context.Context, title, content string, priority int) (int, error) {
	payload := map[string]any{"input": map[string]any{
		"name":     title,
		"content":  content,
		"priority": priority,
	}}
	var created struct {
		ID int `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/Ticket", payload, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// UpdateTicketStatus moves a ticket to a new status.
func (c *GLPIClient) UpdateTicketStatus(ctx context.Context, id, status int) error {
	payload := map[string]any{"input": map[string]any{"status": status}}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/Ticket/%d", id), payload, nil)
}

// AddFollowup appends a public followup to a ticket.
func (c *GLPIClient) AddFollowup(ctx context.Context, ticketID int, content string) error {
	payload := map[string]any{"input": map[string]any{
		"itemtype": "Ticket",
		"items_id": ticketID,
		"content":  content,
	}}
	return c.do(ctx, http.MethodPost, "/ITILFollowup", payload, nil)
}

// CloseTicket marks the ticket solved with a closing followup.
func (c *GLPIClient) CloseTicket(ctx context.Context, id int, solution string) error {
	if solution != "" {
		if err := c.AddFollowup(ctx, id, solution); err != nil {
			return err
		}
	}
	return c.UpdateTicketStatus(ctx, id, TicketStatusSolved)
}

func (c *GLPIClient) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &APIError{Service: "glpi", StatusCode: resp.StatusCode, Message: string(raw)}
}
