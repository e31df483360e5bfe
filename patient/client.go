package patient

import (
	"context"
	"net/http"

	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/pkg/errors"
)

// Client sends patient-scoped requests with the patient session token. There
// is no refresh: a 401 clears the patient session, broadcasts
// session-expired and is returned to the caller as the terminal signal.
// It never consults the staff refresh coordinator or the staff credential.
type Client struct {
	http    *http.Client
	gateway *Gateway
}

// Do sends req with the patient session token attached. Requests with no
// stored session, or that already carry an Authorization header, are sent
// as-is. Transport errors are returned unchanged.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if transport.HasAuthorization(req) {
		return c.http.Do(req)
	}

	cred, ok := c.gateway.store.Get()
	if !ok {
		return c.http.Do(req)
	}

	authed, err := transport.WithBearer(req, cred.SessionToken)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(authed)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.gateway.expire(cred.SessionToken)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.Get] building request")
	}
	return c.Do(req)
}
