package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ObserviumClient reads device status, metrics and alerts from the
// Observium REST API using basic auth. All operations are read-only.
type ObserviumClient struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewObserviumClient builds a client for the Observium API root.
func NewObserviumClient(baseURL, username, password string) *ObserviumClient {
	return &ObserviumClient{
		baseURL:    baseURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Device is the subset of Observium device fields the tools expose.
type Device struct {
	DeviceID int    `json:"device_id"`
	Hostname string `json:"hostname"`
	Status   int    `json:"status"`
	Uptime   int64  `json:"uptime"`
	Hardware string `json:"hardware"`
	OS       string `json:"os"`
}

// Alert is one active Observium alert entry.
type Alert struct {
	AlertID   int    `json:"alert_table_id"`
	DeviceID  int    `json:"device_id"`
	Message   string `json:"alert_message"`
	Severity  string `json:"severity"`
	Timestamp string `json:"last_changed"`
}

func (c *ObserviumClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("observium %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Service: "observium", StatusCode: resp.StatusCode, Message: string(raw)}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// DeviceStatus finds a device by hostname.
func (c *ObserviumClient) DeviceStatus(ctx context.Context, hostname string) (*Device, error) {
	var body struct {
		Devices map[string]Device `json:"devices"`
	}
	path := "/devices/?hostname=" + url.QueryEscape(hostname)
	if err := c.get(ctx, path, &body); err != nil {
		return nil, err
	}
	for _, d := range body.Devices {
		return &d, nil
	}
	return nil, &APIError{Service: "observium", StatusCode: http.StatusNotFound,
		Message: "device not found: " + hostname}
}

// DeviceMetrics returns the port counters for a device.
func (c *ObserviumClient) DeviceMetrics(ctx context.Context, deviceID int) (map[string]any, error) {
	var body struct {
		Ports map[string]any `json:"ports"`
	}
	if err := c.get(ctx, fmt.Sprintf("/ports/?device_id=%d", deviceID), &body); err != nil {
		return nil, err
	}
	return body.Ports, nil
}

// ActiveAlerts lists alerts currently failing.
func (c *ObserviumClient) ActiveAlerts(ctx context.Context) ([]Alert, error) {
	var body struct {
		Alerts map[string]Alert `json:"alerts"`
	}
	if err := c.get(ctx, "/alerts/?status=failed", &body); err != nil {
		return nil, err
	}
	out := make([]Alert, 0, len(body.Alerts))
	for _, a := range body.Alerts {
		out = append(out, a)
	}
	return out, nil
}
