// Package events broadcasts session-expired notifications to interested
// listeners, typically UI code that sends the user back to re-authentication.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheme identifies which authentication scheme a session belonged to
type Scheme string

const (
	SchemeStaff   Scheme = "staff"
	SchemePatient Scheme = "patient"
)

// SessionExpired is delivered to listeners when a session died and could not
// be recovered. Reason is meant to be shown to the user verbatim.
type SessionExpired struct {
	ID     string
	Scheme Scheme
	Reason string
	At     time.Time
}

// Listener receives session-expired notifications. Listeners run on the
// notifying goroutine and must not block.
type Listener func(SessionExpired)

// Notifier is the publishing side of the bus
type Notifier interface {
	NotifySessionExpired(scheme Scheme, reason string)
}

// Bus is an in-process fan-out of session-expired notifications. Delivery
// order between listeners is unspecified.
type Bus struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
	logger    zerolog.Logger
	nowTime   func() time.Time
}

var _ Notifier = (*Bus)(nil)

// BusOption configures a Bus
type BusOption func(*Bus)

func WithLogger(l zerolog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = l
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BusOption {
	return func(b *Bus) {
		b.nowTime = nowFunc
	}
}

func NewBus(options ...BusOption) *Bus {
	b := &Bus{
		listeners: make(map[uint64]Listener),
		logger:    log.Logger,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Subscribe registers l and returns a function that removes it again
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
		})
	}
}

// NotifySessionExpired delivers a SessionExpired event to every listener
// registered at the time of the call. A panicking listener is logged and
// does not stop delivery to the others.
func (b *Bus) NotifySessionExpired(scheme Scheme, reason string) {
	event := SessionExpired{
		ID:     uuid.New().String(),
		Scheme: scheme,
		Reason: reason,
		At:     b.nowTime(),
	}

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	b.logger.Info().
		Str("event_id", event.ID).
		Str("scheme", string(scheme)).
		Str("reason", reason).
		Int("listeners", len(listeners)).
		Msg("session expired")

	for _, l := range listeners {
		b.deliver(l, event)
	}
}

func (b *Bus) deliver(l Listener, event SessionExpired) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("event_id", event.ID).Msg("session-expired listener panicked")
		}
	}()
	l(event)
}
