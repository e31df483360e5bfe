package transport

import (
	"bytes"
	"io"
	"net/http"
	"strings"
)

// SetBearer sets the Authorization header of req
func SetBearer(req *http.Request, token string) {
	req.Header.Set(HeaderAuthorization, bearerPrefix+token)
}

// HasAuthorization reports whether the caller already set an Authorization header
func HasAuthorization(req *http.Request) bool {
	return strings.TrimSpace(req.Header.Get(HeaderAuthorization)) != ""
}

// BearerToken extracts the bearer token of req, or ""
func BearerToken(req *http.Request) string {
	parts := strings.SplitN(req.Header.Get(HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// BufferBody makes the body of req replayable by reading it into memory
// when req has no GetBody. Requests built by http.NewRequest from a
// bytes.Reader or strings.Reader are already replayable.
func BufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}

	buf, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return err
	}

	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(buf))
	return nil
}

// WithBearer returns a clone of req carrying token, with a fresh body when
// req is replayable. req itself is not modified.
func WithBearer(req *http.Request, token string) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	SetBearer(clone, token)
	return clone, nil
}

// DrainAndClose discards what is left of the body so the connection can be reused
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyLen))
	resp.Body.Close()
}
