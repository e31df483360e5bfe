// Package patient implements the patient one-time-passcode session. A patient
// session is a single opaque token with no refresh: any 401 on a
// patient-scoped call ends the session.
package patient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/events"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultExpiredReason is broadcast when a patient session is rejected
const DefaultExpiredReason = "Your session has expired. Please verify your phone number again."

type requestOTPRequest struct {
	Phone    string `json:"phone"`
	ClinicID string `json:"clinicId"`
}

type requestOTPResponse struct {
	ExpiresIn int `json:"expiresIn"`
}

type verifyOTPRequest struct {
	Phone    string `json:"phone"`
	Code     string `json:"code"`
	ClinicID string `json:"clinicId"`
}

type verifyOTPResponse struct {
	SessionToken string              `json:"sessionToken"`
	Patient      credentials.Patient `json:"patient"`
}

// OTPChallenge describes a passcode that has been sent
type OTPChallenge struct {
	ExpiresIn time.Duration
	ExpiresAt time.Time
}

// Gateway talks to the patient auth endpoints and owns the patient credential
type Gateway struct {
	api      *transport.API
	store    credentials.Store[credentials.PatientCredential]
	notifier events.Notifier
	reason   string
	logger   zerolog.Logger
	nowTime  func() time.Time

	// mu serialises credential writes between verify, logout and 401 handling
	mu     sync.Mutex
	client *Client
}

// GatewayOption configures a Gateway
type GatewayOption func(*gatewayOptions)

type gatewayOptions struct {
	httpClient    *http.Client
	logger        zerolog.Logger
	expiredReason string
	nowTime       func() time.Time
}

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

func WithExpiredReason(reason string) GatewayOption {
	return func(o *gatewayOptions) {
		o.expiredReason = reason
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) GatewayOption {
	return func(o *gatewayOptions) {
		o.nowTime = nowFunc
	}
}

func NewGateway(
	baseURL string,
	store credentials.Store[credentials.PatientCredential],
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
		expiredReason: DefaultExpiredReason,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(&opts)
	}

	g := &Gateway{
		api:      transport.NewAPI(baseURL, opts.httpClient),
		store:    store,
		notifier: notifier,
		reason:   opts.expiredReason,
		logger:   opts.logger.With().Str("scheme", string(events.SchemePatient)).Logger(),
		nowTime:  opts.nowTime,
	}
	g.client = &Client{http: opts.httpClient, gateway: g}
	return g, nil
}

// Client returns the request wrapper for patient-scoped calls
func (g *Gateway) Client() *Client {
	return g.client
}

// RequestOTP asks the backend to text a passcode to phone. The backend rate
// limits requests, a rejection matches ErrRateLimited.
func (g *Gateway) RequestOTP(ctx context.Context, phone, clinicID string) (*OTPChallenge, error) {
	var resp requestOTPResponse
	if err := g.api.PostJSON(ctx, transport.RoutePatientRequestOTP, "", requestOTPRequest{Phone: phone, ClinicID: clinicID}, &resp); err != nil {
		return nil, errors.Wrap(err, "[Gateway.RequestOTP]")
	}

	expiresIn := time.Duration(resp.ExpiresIn) * time.Second
	g.logger.Info().Str("clinic_id", clinicID).Dur("expires_in", expiresIn).Msg("passcode requested")
	return &OTPChallenge{
		ExpiresIn: expiresIn,
		ExpiresAt: g.nowTime().Add(expiresIn),
	}, nil
}

// VerifyOTP exchanges a passcode for a session token and stores it. A wrong
// or expired code matches ErrInvalidOTP.
func (g *Gateway) VerifyOTP(ctx context.Context, phone, code, clinicID string) (*credentials.PatientCredential, error) {
	var resp verifyOTPResponse
	err := g.api.PostJSON(ctx, transport.RoutePatientVerifyOTP, "", verifyOTPRequest{Phone: phone, Code: code, ClinicID: clinicID}, &resp)
	if err != nil {
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			g.logger.Info().Str("clinic_id", clinicID).Msg("passcode rejected")
			return nil, errors.Wrap(apiErr.WithKind(ErrInvalidOTP), "[Gateway.VerifyOTP]")
		}
		return nil, errors.Wrap(err, "[Gateway.VerifyOTP]")
	}
	if resp.SessionToken == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "[Gateway.VerifyOTP] missing session token")
	}

	cred := credentials.PatientCredential{SessionToken: resp.SessionToken, Patient: resp.Patient}
	g.mu.Lock()
	g.store.Set(cred)
	g.mu.Unlock()

	g.logger.Info().Str("patient_id", cred.Patient.PatientID).Str("clinic_id", cred.Patient.ClinicID).Msg("patient verified")
	return &cred, nil
}

// Logout invalidates the session server-side on a best effort basis and
// always clears it locally
func (g *Gateway) Logout(ctx context.Context) {
	if cred, ok := g.store.Get(); ok {
		if err := g.api.PostJSON(ctx, transport.RoutePatientLogout, cred.SessionToken, nil, nil); err != nil {
			g.logger.Warn().Err(err).Msg("server-side logout failed, clearing local session anyway")
		}
	}

	g.mu.Lock()
	g.store.Clear()
	g.mu.Unlock()
	g.logger.Info().Msg("patient logged out")
}

// CurrentPatient returns the cached patient profile
func (g *Gateway) CurrentPatient() (*credentials.Patient, bool) {
	cred, ok := g.store.Get()
	if !ok {
		return nil, false
	}
	return &cred.Patient, true
}

func (g *Gateway) IsAuthenticated() bool {
	_, ok := g.store.Get()
	return ok
}

// expire ends the session that sent sessionToken. Only the first 401 for a
// token clears and broadcasts; a newer session is left alone.
func (g *Gateway) expire(sessionToken string) {
	g.mu.Lock()
	current, ok := g.store.Get()
	if !ok || current.SessionToken != sessionToken {
		g.mu.Unlock()
		return
	}
	g.store.Clear()
	g.mu.Unlock()

	g.logger.Info().Msg("patient session rejected by backend")
	g.notifier.NotifySessionExpired(events.SchemePatient, g.reason)
}
