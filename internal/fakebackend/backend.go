// Package fakebackend is an in-memory stand-in for the clinic backend's auth
// endpoints. Tests use it through httptest, sessionctl can serve it locally.
package fakebackend

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-clinic-session/credentials"
	"github.com/jrsteele09/go-clinic-session/internal/transport"
	"github.com/pkg/errors"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Routes protected by each scheme, handy for exercising the request wrappers
const (
	RouteStaffEcho   = "/staff/echo"
	RoutePatientEcho = "/patient/echo"
	RouteStatus      = "/status/{code}"
)

const (
	defaultAccessTTL = 15 * time.Minute
	otpIssuer        = "Clinic"
	otpValidity      = 60 // seconds, one TOTP period either side of now
)

type staffAccount struct {
	passwordHash []byte
	user         credentials.User
}

type patientAccount struct {
	patient        credentials.Patient
	otpSecret      string
	lastOTPRequest time.Time
}

// Backend holds all server-side state. The zero value is not usable, use New.
type Backend struct {
	mu sync.Mutex

	signingKey []byte
	accessTTL  time.Duration
	nowTime    func() time.Time
	logger     zerolog.Logger

	staff         map[string]*staffAccount   // email -> account
	accessTokens  map[string]string          // live jti -> email
	refreshTokens map[string]string          // refresh token -> email
	patients      map[string]*patientAccount // phone|clinic -> account
	sessions      map[string]string          // session token -> phone|clinic

	refreshDelay  time.Duration
	refreshStatus int
	otpCooldown   time.Duration
	sendSMS       SMSSender

	calls map[string]int
}

// SMSSender delivers a passcode to a phone. The real backend texts it, the
// fake hands it to whoever is listening. It runs with the backend locked and
// must not call back into it.
type SMSSender func(phone, code string)

// Option configures a Backend
type Option func(*Backend)

func WithAccessTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		b.accessTTL = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(b *Backend) {
		b.nowTime = nowFunc
	}
}

func WithSMSSender(send SMSSender) Option {
	return func(b *Backend) {
		b.sendSMS = send
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

func New(options ...Option) *Backend {
	b := &Backend{
		signingKey:    []byte(uuid.New().String()),
		accessTTL:     defaultAccessTTL,
		nowTime:       time.Now,
		logger:        log.Logger,
		staff:         make(map[string]*staffAccount),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		patients:      make(map[string]*patientAccount),
		sessions:      make(map[string]string),
		calls:         make(map[string]int),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Handler returns the backend's routes
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mw := []func(http.HandlerFunc) http.HandlerFunc{b.RecoverMiddleware, b.LoggingMiddleware}

	mux.HandleFunc("POST "+transport.RouteStaffLogin, ChainMiddleware(b.handleStaffLogin, mw...))
	mux.HandleFunc("POST "+transport.RouteStaffLogout, ChainMiddleware(b.handleStaffLogout, mw...))
	mux.HandleFunc("GET "+transport.RouteStaffMe, ChainMiddleware(b.handleStaffMe, mw...))
	mux.HandleFunc("POST "+transport.RouteStaffRefresh, ChainMiddleware(b.handleStaffRefresh, mw...))

	mux.HandleFunc("POST "+transport.RoutePatientRequestOTP, ChainMiddleware(b.handleRequestOTP, mw...))
	mux.HandleFunc("POST "+transport.RoutePatientVerifyOTP, ChainMiddleware(b.handleVerifyOTP, mw...))
	mux.HandleFunc("POST "+transport.RoutePatientLogout, ChainMiddleware(b.handlePatientLogout, mw...))

	mux.HandleFunc(RouteStaffEcho, ChainMiddleware(b.handleStaffEcho, mw...))
	mux.HandleFunc(RoutePatientEcho, ChainMiddleware(b.handlePatientEcho, mw...))
	mux.HandleFunc(RouteStatus, ChainMiddleware(b.handleStatus, mw...))
	return mux
}

// AddStaff registers a staff account
func (b *Backend) AddStaff(email, password string, user credentials.User) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return errors.Wrap(err, "[Backend.AddStaff] hashing password")
	}
	user.Email = email

	b.mu.Lock()
	defer b.mu.Unlock()
	b.staff[email] = &staffAccount{passwordHash: hash, user: user}
	return nil
}

// AddPatient registers a patient reachable at phone for clinicID
func (b *Backend) AddPatient(phone, clinicID string, patient credentials.Patient) {
	patient.ClinicID = clinicID

	b.mu.Lock()
	defer b.mu.Unlock()
	b.patients[patientKey(phone, clinicID)] = &patientAccount{patient: patient}
}

// CurrentOTP returns the code the patient would have received by SMS
func (b *Backend) CurrentOTP(phone, clinicID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	account, ok := b.patients[patientKey(phone, clinicID)]
	if !ok || account.otpSecret == "" {
		return "", errors.New("[Backend.CurrentOTP] no passcode requested")
	}
	code, err := totp.GenerateCode(account.otpSecret, b.nowTime())
	if err != nil {
		return "", errors.Wrap(err, "[Backend.CurrentOTP] totp.GenerateCode")
	}
	return code, nil
}

// ExpireAccessTokens invalidates every issued staff access token. Refresh
// tokens stay valid.
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accessTokens = make(map[string]string)
}

// ExpirePatientSessions invalidates every patient session token
func (b *Backend) ExpirePatientSessions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = make(map[string]string)
}

// SetRefreshDelay delays every refresh response
func (b *Backend) SetRefreshDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshDelay = d
}

// SetRefreshFailure makes the refresh endpoint answer with status. Zero
// restores normal behaviour.
func (b *Backend) SetRefreshFailure(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshStatus = status
}

// SetOTPCooldown rejects OTP requests for the same patient arriving within d
func (b *Backend) SetOTPCooldown(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.otpCooldown = d
}

// Calls returns how many requests a route has served
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

func (b *Backend) count(route string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[route]++
}

func patientKey(phone, clinicID string) string {
	return phone + "|" + clinicID
}
