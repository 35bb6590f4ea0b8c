package whatsapp

import (
	"fmt"
	"strings"
)

// ProviderAPIError is a non-success HTTP response from the Graph API.
type ProviderAPIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("whatsapp %s: status %d: %s", e.Op, e.StatusCode, body)
}

// ParseError is a webhook payload that does not match the expected shape.
type ParseError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "invalid webhook payload"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
