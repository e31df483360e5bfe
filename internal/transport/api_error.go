package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
)

// APIError is a non-2xx response from the backend. Message is the server's
// user-facing text when it sent one.
type APIError struct {
	Status  int
	Message string
	kind    error
}

// NewAPIError reads the error body of resp. The caller still owns resp.Body.
func NewAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, kind: kindForStatus(resp.StatusCode)}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Message = body.Message
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
	}
	return apiErr
}

// WithKind returns a copy of e that matches kind under errors.Is
func (e *APIError) WithKind(kind error) *APIError {
	cp := *e
	cp.kind = kind
	return &cp
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%d)", e.kind, e.Status)
}

func (e *APIError) Unwrap() error {
	return e.kind
}

func kindForStatus(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ierrors.ErrUnauthorized
	case http.StatusTooManyRequests:
		return ierrors.ErrRateLimited
	default:
		return ierrors.ErrUnexpectedStatus
	}
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if ierrors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage returns the text to show a user for err: the server's own
// message when there is one, otherwise err's text.
func UserMessage(err error) string {
	var apiErr *APIError
	if ierrors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
