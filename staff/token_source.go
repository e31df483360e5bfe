package staff

import (
	"context"
	"time"

	"github.com/jrsteele09/go-clinic-session/refresh"
	"golang.org/x/oauth2"
)

// expiryLeeway refreshes a little before the access token's exp claim
const expiryLeeway = 10 * time.Second

type tokenSource struct {
	ctx     context.Context
	gateway *Gateway
	nowTime func() time.Time
}

// TokenSource exposes the staff session as an oauth2.TokenSource, so any
// library that accepts one (oauth2.NewClient, gRPC credentials) sends the
// staff access token. A token whose exp claim has passed is refreshed
// through the same coordinator the request wrapper uses.
func (g *Gateway) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, gateway: g, nowTime: time.Now}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	cred, ok := ts.gateway.store.Get()
	if !ok {
		return nil, ErrNotAuthenticated
	}

	if exp, ok := cred.AccessExpiry(); ok && !ts.nowTime().Add(expiryLeeway).Before(exp) {
		if ts.gateway.coordinator.Refresh(ts.ctx, cred.AccessToken) != refresh.Refreshed {
			return nil, ErrSessionExpired
		}
		if cred, ok = ts.gateway.store.Get(); !ok {
			return nil, ErrSessionExpired
		}
	}

	token := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: cred.RefreshToken,
	}
	if exp, ok := cred.AccessExpiry(); ok {
		token.Expiry = exp
	}
	return token, nil
}
