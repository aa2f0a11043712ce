package mdapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Response is the uniform result of an API call. OK is true when the
// status was 2xx or explicitly whitelisted by the caller.
type Response struct {
	StatusCode int
	Data       json.RawMessage
	OK         bool
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return errors.New("response has no body")
	}
	return errors.WithStack(json.Unmarshal(r.Data, v))
}

type apiError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}

// ErrorSummary renders the platform's error envelope, falling back to the
// bare status code when the body isn't an envelope.
func (r *Response) ErrorSummary() string {
	var envelope errorEnvelope
	if len(r.Data) == 0 || json.Unmarshal(r.Data, &envelope) != nil || len(envelope.Errors) == 0 {
		return fmt.Sprintf("status %d", r.StatusCode)
	}

	parts := make([]string, 0, len(envelope.Errors))
	for _, e := range envelope.Errors {
		part := fmt.Sprintf("%d: %s", e.Status, e.Title)
		if e.Detail != "" {
			part += ": " + e.Detail
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}
