// Package staff implements the clinic staff session: JWT access and refresh
// tokens, transparent refresh on 401 and the authenticated request wrapper.
package staff

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/events"
	ierrors "github.com/jrsteele09/go-clinic-session/internal/errors"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/jrsteele09/go-clinic-session/refresh"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPairResponse struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	User         *credentials.User `json:"user,omitempty"`
}

// Gateway talks to the staff auth endpoints and owns the staff credential.
// All writes to the credential go through the gateway's lock so a profile
// update can't resurrect a credential that a failed refresh just cleared.
type Gateway struct {
	api    *transport.API
	store  credentials.Store[credentials.StaffCredential]
	logger zerolog.Logger

	mu          sync.Mutex
	coordinator *refresh.Coordinator
	client      *Client
}

var _ refresh.Session = (*Gateway)(nil)

// GatewayOption configures a Gateway
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	httpClient    *http.Client
	logger        zerolog.Logger
	expiredReason string
}

// WithHTTPClient sets the client used for every call, including wrapped requests
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(o *gatewayOptions) {
		o.httpClient = c
	}
}

func WithLogger(l zerolog.Logger) GatewayOption {
	return func(o *gatewayOptions) {
		o.logger = l
	}
}

// WithExpiredReason sets the message broadcast when the session can't be refreshed
func WithExpiredReason(reason string) GatewayOption {
	return func(o *gatewayOptions) {
		o.expiredReason = reason
	}
}

// NewGateway wires the gateway, its refresh coordinator and its request
// wrapper. baseURL is the API root the /auth routes hang off.
func NewGateway(
	baseURL string,
	store credentials.Store[credentials.StaffCredential],
	notifier events.Notifier,
	options ...GatewayOption,
) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("[NewGateway] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[NewGateway] store is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewGateway] notifier is required")
	}

	opts := gatewayOptions{
		httpClient:    http.DefaultClient,
		logger:        log.Logger,
		expiredReason: refresh.DefaultExpiredReason,
	}
	for _, opt := range options {
		opt(&opts)
	}

	g := &Gateway{
		api:    transport.NewAPI(baseURL, opts.httpClient),
		store:  store,
		logger: opts.logger.With().Str("scheme", string(events.SchemeStaff)).Logger(),
	}

	coordinator, err := refresh.NewCoordinator(g, notifier,
		refresh.WithLogger(g.logger),
		refresh.WithExpiredReason(opts.expiredReason),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewGateway] refresh.NewCoordinator")
	}
	g.coordinator = coordinator
	g.client = &Client{
		http:        opts.httpClient,
		store:       store,
		coordinator: coordinator,
		logger:      g.logger,
	}
	return g, nil
}

// Client returns the authenticated request wrapper for staff-scoped calls
func (g *Gateway) Client() *Client {
	return g.client
}

// Coordinator returns the refresh coordinator shared by this gateway's requests
func (g *Gateway) Coordinator() *refresh.Coordinator {
	return g.coordinator
}

// Login exchanges email and password for a token pair and stores it.
// A rejection by the backend returns an error matching ErrInvalidCredentials
// whose transport.UserMessage is the server's message.
func (g *Gateway) Login(ctx context.Context, email, password string) (*credentials.StaffCredential, error) {
	var resp tokenPairResponse
	err := g.api.PostJSON(ctx, transport.RouteStaffLogin, "", loginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && isCredentialRejection(apiErr.Status) {
			g.logger.Info().Str("email", email).Msg("login rejected")
			return nil, errors.Wrap(apiErr.WithKind(ErrInvalidCredentials), "[Gateway.Login]")
		}
		return nil, errors.Wrap(err, "[Gateway.Login]")
	}

	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.User == nil {
		return nil, errors.Wrap(ErrMalformedResponse, "[Gateway.Login] incomplete token response")
	}

	cred := credentials.StaffCredential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         *resp.User,
	}
	g.mu.Lock()
	g.store.Set(cred)
	g.mu.Unlock()

	g.logger.Info().Str("email", cred.User.Email).Str("role", string(cred.User.Role)).Msg("logged in")
	return &cred, nil
}

// Logout asks the backend to invalidate the session and clears the local
// credential. The server call is best effort, local clearing always happens.
func (g *Gateway) Logout(ctx context.Context) {
	if cred, ok := g.store.Get(); ok {
		err := g.api.PostJSON(ctx, transport.RouteStaffLogout, cred.AccessToken, refreshRequest{RefreshToken: cred.RefreshToken}, nil)
		if err != nil {
			g.logger.Warn().Err(err).Msg("server-side logout failed, clearing local session anyway")
		}
	}
	g.ClearCredentials()
	g.logger.Info().Msg("logged out")
}

// GetCurrentUser validates the session by fetching the profile. A 401 is
// recovered through the refresh coordinator and retried once. It returns
// nil without an error when there is no usable session.
func (g *Gateway) GetCurrentUser(ctx context.Context) (*credentials.User, error) {
	cred, ok := g.store.Get()
	if !ok {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.api.URL(transport.RouteStaffMe), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.GetCurrentUser] building request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ierrors.Mark(err, ErrTransientNetwork), "[Gateway.GetCurrentUser]")
	}
	defer transport.DrainAndClose(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrap(transport.NewAPIError(resp), "[Gateway.GetCurrentUser]")
	}

	user, err := decodeUser(resp)
	if err != nil {
		return nil, errors.Wrap(err, "[Gateway.GetCurrentUser]")
	}
	g.updateUser(cred.User.ID, *user)
	return user, nil
}

// Refresh exchanges the stored refresh token for a new pair and stores it.
// It never clears the credential on failure, the refresh coordinator does
// that once for all waiters. Most callers want Client().Do instead.
func (g *Gateway) Refresh(ctx context.Context) (bool, error) {
	cred, ok := g.store.Get()
	if !ok {
		return false, ErrNotAuthenticated
	}

	var resp tokenPairResponse
	if err := g.api.PostJSON(ctx, transport.RouteStaffRefresh, "", refreshRequest{RefreshToken: cred.RefreshToken}, &resp); err != nil {
		return false, errors.Wrap(err, "[Gateway.Refresh]")
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		return false, errors.Wrap(ErrMalformedResponse, "[Gateway.Refresh] incomplete token pair")
	}

	next := credentials.StaffCredential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         cred.User,
	}
	if resp.User != nil {
		next.User = *resp.User
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if current, ok := g.store.Get(); !ok || current.RefreshToken != cred.RefreshToken {
		// Logged out or logged in again while the call was in flight
		return false, ErrSessionExpired
	}
	g.store.Set(next)
	return true, nil
}

// AccessToken returns the stored access token
func (g *Gateway) AccessToken() (string, bool) {
	cred, ok := g.store.Get()
	if !ok {
		return "", false
	}
	return cred.AccessToken, true
}

// ClearCredentials removes the stored credential
func (g *Gateway) ClearCredentials() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Clear()
}

// ClearIfAccessToken clears the credential only if it still carries
// accessToken, so a login that landed during a refresh survives its failure.
func (g *Gateway) ClearIfAccessToken(accessToken string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.store.Get()
	if !ok || current.AccessToken != accessToken {
		return false
	}
	g.store.Clear()
	return true
}

// CachedUser returns the profile stored at login, without a network call
func (g *Gateway) CachedUser() (*credentials.User, bool) {
	cred, ok := g.store.Get()
	if !ok {
		return nil, false
	}
	return &cred.User, true
}

// IsAuthenticated reports whether a credential is stored. It does not check
// the token with the backend, use GetCurrentUser for that.
func (g *Gateway) IsAuthenticated() bool {
	_, ok := g.store.Get()
	return ok
}

func (g *Gateway) updateUser(userID string, user credentials.User) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.store.Get()
	if !ok || current.User.ID != userID {
		return
	}
	current.User = user
	g.store.Set(*current)
}

// decodeUser accepts the profile either bare or wrapped as {"user": {...}}
func decodeUser(resp *http.Response) (*credentials.User, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, err.Error())
	}

	var wrapped struct {
		User *credentials.User `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		return wrapped.User, nil
	}

	var user credentials.User
	if err := json.Unmarshal(raw, &user); err != nil || user.ID == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "profile without id")
	}
	return &user, nil
}

func isCredentialRejection(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden
}
