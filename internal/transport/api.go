// Package transport holds the HTTP plumbing shared by the staff and patient
// session layers: JSON calls against the backend and request cloning for the
// authenticated wrappers.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
	"github.com/pkg/errors"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"

	bearerPrefix    = "Bearer "
	maxErrorBodyLen = 64 << 10
)

// API issues JSON calls against one backend base URL
type API struct {
	baseURL string
	client  *http.Client
}

// NewAPI returns an API for baseURL. A nil client uses http.DefaultClient.
func NewAPI(baseURL string, client *http.Client) *API {
	if client == nil {
		client = http.DefaultClient
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// URL joins path onto the base URL
func (a *API) URL(path string) string {
	return a.baseURL + "/" + strings.TrimLeft(path, "/")
}

// HTTPClient returns the underlying client
func (a *API) HTTPClient() *http.Client {
	return a.client
}

// PostJSON sends body as JSON and decodes a successful response into out.
// bearer may be empty for unauthenticated calls, out may be nil.
func (a *API) PostJSON(ctx context.Context, path, bearer string, body, out any) error {
	return a.call(ctx, http.MethodPost, path, bearer, body, out)
}

// GetJSON decodes a successful response into out
func (a *API) GetJSON(ctx context.Context, path, bearer string, out any) error {
	return a.call(ctx, http.MethodGet, path, bearer, nil, out)
}

func (a *API) call(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[API.call] encoding request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.URL(path), reader)
	if err != nil {
		return errors.Wrap(err, "[API.call] building request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		SetBearer(req, bearer)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Wrapf(ierrors.Mark(err, ierrors.ErrTransientNetwork), "[API.call] %s %s", method, path)
	}
	defer DrainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return NewAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(ierrors.Mark(err, ierrors.ErrMalformedResponse), "[API.call] %s %s", method, path)
	}
	return nil
}
