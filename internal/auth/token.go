package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refresher exchanges stored credentials for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// CachingSource caches the access token and refreshes it at most once at a
// time: the token is a single shared mutable resource, so concurrent
// callers await the in-flight refresh instead of triggering their own.
type CachingSource struct {
	mu        sync.Mutex
	refresher Refresher
	logger    *zap.Logger

	token     string
	expiresAt time.Time

	// leeway refreshes slightly before actual expiry to avoid handing out
	// a token that dies mid-request.
	leeway time.Duration
}

// NewCachingSource creates a token source backed by the given refresher.
func NewCachingSource(r Refresher, logger *zap.Logger) *CachingSource {
	return &CachingSource{
		refresher: r,
		logger:    logger,
		leeway:    30 * time.Second,
	}
}

// Token returns a valid access token, refreshing if the cached one expired.
// Errors are transient from the caller's perspective: the dispatcher
// treats them as retryable, not fatal.
func (s *CachingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(s.leeway).Before(s.expiresAt) {
		return s.token, nil
	}

	token, expiresAt, err := s.refresher.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	s.token = token
	s.expiresAt = expiresAt
	if s.logger != nil {
		s.logger.Info("access token refreshed", zap.Time("expires_at", expiresAt))
	}
	return token, nil
}

// Invalidate drops the cached token so the next Token call refreshes.
// Called after a 401 to recover from server-side revocation.
func (s *CachingSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
