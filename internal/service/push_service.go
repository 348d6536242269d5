// Package service contains application services built on the session core.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
)

// DefaultRegisterTimeout bounds one push registration call.
const DefaultRegisterTimeout = 10 * time.Second

// PushSession is the part of session.Manager the push service uses.
type PushSession interface {
	Subscribe(fn func(session.Change)) (unsubscribe func())
	CachePushToken(ctx context.Context, gen uint64, token string) error
}

// PushService registers the device for push notifications whenever a
// session becomes authenticated without a cached push token, and abandons
// any pending registration once the session ends.
type PushService struct {
	sessions  PushSession
	registrar outbound.PushRegistrar
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[uint64]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup

	unsubscribe func()
}

// NewPushService creates a PushService. Call Start to begin listening.
func NewPushService(sessions PushSession, registrar outbound.PushRegistrar, logger *slog.Logger) *PushService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushService{
		sessions:  sessions,
		registrar: registrar,
		timeout:   DefaultRegisterTimeout,
		logger:    logger,
		pending:   make(map[uint64]context.CancelFunc),
	}
}

// SetTimeout overrides DefaultRegisterTimeout. Call before Start.
func (s *PushService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Start subscribes to session changes.
func (s *PushService) Start() {
	s.unsubscribe = s.sessions.Subscribe(s.onChange)
}

// Pending returns the number of registrations in flight.
func (s *PushService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *PushService) onChange(ch session.Change) {
	switch ch.To {
	case session.Authenticated:
		if ch.Session.PushToken != "" || ch.Session.User.ID == "" {
			return
		}
		s.register(ch.Generation, ch.Session)
	case session.LoggingOut, session.Unauthenticated:
		s.cancelAll()
	}
}

func (s *PushService) register(gen uint64, sess session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.pending[gen]; ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.pending[gen] = cancel
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.finish(gen)

		token, err := s.registrar.Register(ctx, sess.AccessToken, sess.User.ID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("push registration failed", "user_id", sess.User.ID, "error", err)
			}
			return
		}
		if err := s.sessions.CachePushToken(ctx, gen, token); err != nil {
			s.logger.Warn("failed to cache push token", "error", err)
			return
		}
		s.logger.Debug("push token registered", "user_id", sess.User.ID, "generation", gen)
	}()
}

func (s *PushService) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.pending[gen]; ok {
		cancel()
		delete(s.pending, gen)
	}
}

func (s *PushService) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.pending {
		cancel()
	}
}

// Wait blocks until no registration is pending or ctx is done. It does not
// cancel anything.
func (s *PushService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes, cancels pending registrations and waits for them to
// return or ctx to be done.
func (s *PushService) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancelAll()
	return s.Wait(ctx)
}
