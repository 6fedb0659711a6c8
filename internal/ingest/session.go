package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("analysis session not found")

type session struct {
	bundle     *Bundle
	lastAccess time.Time
}

// Sessions keeps bundles open between analyzer requests and closes the ones
// idle for longer than the TTL.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*session
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewSessions(ttl time.Duration, logger *zap.Logger) *Sessions {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		sessions: make(map[string]*session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Put registers b under its bundle ID.
func (s *Sessions) Put(b *Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[b.ID] = &session{bundle: b, lastAccess: s.now()}
}

// Get returns the bundle and refreshes its idle timer.
func (s *Sessions) Get(id string) (*Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.lastAccess = s.now()
	return sess.bundle, nil
}

// Close removes and closes one session.
func (s *Sessions) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess.bundle.Close()
}

// Len reports the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle longer than the TTL and returns how many were
// closed.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	var expired []*Bundle
	for id, sess := range s.sessions {
		if sess.lastAccess.Before(cutoff) {
			expired = append(expired, sess.bundle)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, b := range expired {
		if err := b.Close(); err != nil {
			s.logger.Warn("close expired bundle", zap.String("bundle", b.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		s.logger.Info("expired analysis sessions", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes all sessions.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.CloseAll()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// CloseAll closes every open session.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, sess := range all {
		sess.bundle.Close()
	}
}
