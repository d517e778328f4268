package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response in PostgREST or storage shape.
type APIError struct {
	Status  int    `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// Is matches ErrNotFound for 404s and for single-object requests that
// returned no rows.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && (e.Status == http.StatusNotFound || e.Code == "PGRST116")
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var payload struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
		Details *string         `json:"details"`
		Hint    *string         `json:"hint"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var code string
	if json.Unmarshal(payload.Code, &code) == nil {
		apiErr.Code = code
	}
	apiErr.Message = payload.Message
	if apiErr.Message == "" {
		apiErr.Message = payload.Error
	}
	if payload.Details != nil {
		apiErr.Details = *payload.Details
	}
	if payload.Hint != nil {
		apiErr.Hint = *payload.Hint
	}
	return apiErr
}
