package staff

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/jrsteele09/go-clinic-session/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client sends staff-scoped requests with the stored access token. A 401 is
// recovered by refreshing through the coordinator and resending once.
// It never attaches or clears patient credentials.
type Client struct {
	http        *http.Client
	store       credentials.Store[credentials.StaffCredential]
	coordinator *refresh.Coordinator
	logger      zerolog.Logger
}

// Do sends req and returns the response the caller should act on.
//
// Any status other than 401 is returned untouched. On 401 the session is
// refreshed (sharing any refresh already in flight) and req is sent again
// exactly once with the new token, whatever that second response is. If the
// refresh fails the credential has been cleared, session-expired has been
// broadcast, and the original 401 is returned: callers must not retry it.
//
// Requests with no stored credential, or that already carry an
// Authorization header, are sent as-is and never trigger a refresh.
// Transport errors are returned unchanged.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if transport.HasAuthorization(req) {
		return c.http.Do(req)
	}

	cred, ok := c.store.Get()
	if !ok {
		return c.http.Do(req)
	}

	if err := transport.BufferBody(req); err != nil {
		return nil, err
	}
	first, err := transport.WithBearer(req, cred.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(first)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	logger := c.logger.With().Str("method", req.Method).Str("url", req.URL.Redacted()).Logger()
	logger.Debug().Msg("401 received, recovering session")

	if outcome := c.coordinator.Refresh(req.Context(), cred.AccessToken); outcome != refresh.Refreshed {
		return resp, nil
	}

	fresh, ok := c.store.Get()
	if !ok {
		return resp, nil
	}
	retry, err := transport.WithBearer(req, fresh.AccessToken)
	if err != nil {
		return resp, nil
	}
	transport.DrainAndClose(resp)

	logger.Debug().Msg("resending with refreshed token")
	return c.http.Do(retry)
}

// Get is a convenience wrapper around Do
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Get] building request")
	}
	return c.Do(req)
}

// SendJSON encodes body as JSON and sends it with method to url through Do
func (c *Client) SendJSON(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.SendJSON] encoding body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.SendJSON] building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.Do(req)
}
