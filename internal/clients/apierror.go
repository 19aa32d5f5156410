package clients

import "fmt"

// APIError reports a collaborator call that returned a non-success status.
// Tool handlers surface it as an external-API error at the dispatcher.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Service, e.StatusCode, e.Message)
}
