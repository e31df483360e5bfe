// Package refresh coordinates staff token refreshes so that any number of
// requests failing with 401 at the same time cause a single call to the
// backend's refresh endpoint.
package refresh

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jrsteele09/go-clinic-session/events"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultExpiredReason is broadcast when a refresh fails
const DefaultExpiredReason = "Your session has expired. Please sign in again."

// There is one refresh slot per coordinator
const refreshKey = "refresh"

// Outcome of a refresh cycle, shared by every caller that waited on it
type Outcome int

const (
	Failed Outcome = iota
	Refreshed
)

func (o Outcome) String() string {
	if o == Refreshed {
		return "refreshed"
	}
	return "failed"
}

// Session is the credential owner the coordinator drives. Refresh exchanges
// the refresh token and stores the new pair but never clears on failure,
// clearing is the coordinator's job. ClearIfAccessToken removes the stored
// credential only while its access token is still accessToken and reports
// whether it did.
type Session interface {
	Refresh(ctx context.Context) (bool, error)
	AccessToken() (string, bool)
	ClearIfAccessToken(accessToken string) bool
}

// Coordinator runs at most one refresh at a time. Callers arriving while a
// refresh is in flight wait for it and receive its outcome. A failed refresh
// clears the credential it started from and broadcasts session-expired
// exactly once. A credential replaced by login or logout mid-refresh is left
// alone and nothing is broadcast.
type Coordinator struct {
	session  Session
	notifier events.Notifier
	reason   string
	logger   zerolog.Logger

	group      singleflight.Group
	inProgress atomic.Bool
	cycles     atomic.Int64
}

// Option configures a Coordinator
type Option func(*Coordinator)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithExpiredReason sets the text broadcast when the session can't be refreshed
func WithExpiredReason(reason string) Option {
	return func(c *Coordinator) {
		c.reason = reason
	}
}

func NewCoordinator(session Session, notifier events.Notifier, options ...Option) (*Coordinator, error) {
	if session == nil {
		return nil, errors.New("[NewCoordinator] session is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewCoordinator] notifier is required")
	}

	c := &Coordinator{
		session:  session,
		notifier: notifier,
		reason:   DefaultExpiredReason,
		logger:   log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Refresh recovers from a 401 received on a request sent with
// staleAccessToken. If the stored access token has already moved on, the
// session was refreshed after that request went out and no new refresh is
// started.
//
// The refresh runs detached from ctx: once started it completes for every
// waiter even if the caller that started it goes away.
func (c *Coordinator) Refresh(ctx context.Context, staleAccessToken string) Outcome {
	if c.rotatedSince(staleAccessToken) {
		return Refreshed
	}

	v, _, shared := c.group.Do(refreshKey, func() (interface{}, error) {
		return c.run(context.WithoutCancel(ctx), staleAccessToken), nil
	})
	outcome := v.(Outcome)

	if shared {
		c.logger.Debug().Stringer("outcome", outcome).Msg("joined in-flight refresh")
	}
	return outcome
}

// InProgress reports whether a refresh call is currently in flight
func (c *Coordinator) InProgress() bool {
	return c.inProgress.Load()
}

// Cycles returns how many refresh calls have been made to the backend
func (c *Coordinator) Cycles() int {
	return int(c.cycles.Load())
}

func (c *Coordinator) run(ctx context.Context, staleAccessToken string) Outcome {
	c.inProgress.Store(true)
	defer c.inProgress.Store(false)

	current, ok := c.session.AccessToken()
	if !ok {
		// Logged out, or an earlier failed cycle already cleared and
		// broadcast. Nothing left to refresh or announce.
		return Failed
	}
	if staleAccessToken != "" && current != staleAccessToken {
		return Refreshed
	}

	cycle := c.cycles.Add(1)
	logger := c.logger.With().Int64("cycle", cycle).Logger()
	logger.Debug().Msg("refreshing access token")

	refreshed, err := c.session.Refresh(ctx)
	if refreshed {
		logger.Info().Msg("access token refreshed")
		return Refreshed
	}

	if !c.session.ClearIfAccessToken(current) {
		// Logged out or logged in again while the call was in flight. That
		// credential is not this cycle's to end.
		logger.Info().Err(err).Msg("credential replaced during refresh")
		if latest, ok := c.session.AccessToken(); ok && latest != current {
			return Refreshed
		}
		return Failed
	}

	logger.Warn().Err(err).Msg("token refresh failed, session ended")
	c.notifier.NotifySessionExpired(events.SchemeStaff, c.reason)
	return Failed
}

func (c *Coordinator) rotatedSince(staleAccessToken string) bool {
	if staleAccessToken == "" {
		return false
	}
	current, ok := c.session.AccessToken()
	return ok && current != staleAccessToken
}
