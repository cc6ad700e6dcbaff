package trust

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterStore keeps one outbound fetch limiter per issuer so a flood of
// tokens naming one issuer cannot starve fetches for the others.
type limiterStore struct {
	limit rate.Limit
	burst int

	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

func newLimiterStore(perSecond float64, burst int) *limiterStore {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiterStore{
		limit:  rate.Limit(perSecond),
		burst:  burst,
		limits: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until a fetch for issuer is allowed or ctx is done.
func (s *limiterStore) Wait(ctx context.Context, issuer string) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	limiter, ok := s.limits[issuer]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limits[issuer] = limiter
	}
	s.mu.Unlock()

	return limiter.Wait(ctx)
}

// forget drops limiters of issuers that are no longer trusted.
func (s *limiterStore) forget(keep func(issuer string) bool) {
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for issuer := range s.limits {
		if !keep(issuer) {
			delete(s.limits, issuer)
		}
	}
}
