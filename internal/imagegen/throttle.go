package imagegen

import (
	"context"
	"sync"
	"time"
)

// spacedProvider holds calls to the wrapped provider at least minInterval
// apart. The hosted inference free tier rejects bursts.
type spacedProvider struct {
	inner       Provider
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

// WithMinInterval returns p unchanged when minInterval is not positive.
func WithMinInterval(p Provider, minInterval time.Duration) Provider {
	if p == nil || minInterval <= 0 {
		return p
	}
	return &spacedProvider{inner: p, minInterval: minInterval}
}

func (s *spacedProvider) Name() string {
	return s.inner.Name()
}

func (s *spacedProvider) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if err := s.waitTurn(ctx); err != nil {
		return nil, err
	}
	return s.inner.Generate(ctx, prompt)
}

func (s *spacedProvider) waitTurn(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := time.Now()
		if !s.nextAllowedAt.After(now) {
			s.nextAllowedAt = now.Add(s.minInterval)
			s.mu.Unlock()
			return nil
		}
		wait := s.nextAllowedAt.Sub(now)
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
