package provider

import (
	"context"
	"sync"
)

// ScorerSession is a process-scoped shared handle on the scoring
// collaborator. The underlying client is initialized lazily by the
// first Acquire, with a single in-flight initialization shared by
// concurrent callers, reference-counted, and torn down explicitly when
// the last holder releases it. A failed initialization is retried by
// the next Acquire.
type ScorerSession struct {
	open     func(ctx context.Context) (*ScorerClient, error)
	teardown func(*ScorerClient)

	mu      sync.Mutex
	refs    int
	client  *ScorerClient
	pending chan struct{}
	initErr error
}

// NewScorerSession creates a session around the given factory.
// teardown may be nil.
func NewScorerSession(open func(ctx context.Context) (*ScorerClient, error), teardown func(*ScorerClient)) *ScorerSession {
	return &ScorerSession{open: open, teardown: teardown}
}

// Acquire returns the shared client, initializing it if this is the
// first holder. Concurrent first callers share one initialization.
func (s *ScorerSession) Acquire(ctx context.Context) (*ScorerClient, error) {
	for {
		s.mu.Lock()
		if s.client != nil {
			s.refs++
			s.mu.Unlock()
			return s.client, nil
		}
		if s.pending == nil {
			// This caller performs the initialization.
			pending := make(chan struct{})
			s.pending = pending
			s.mu.Unlock()

			client, err := s.open(ctx)

			s.mu.Lock()
			s.initErr = err
			if err == nil {
				s.client = client
				s.refs = 1
			}
			s.pending = nil
			close(pending)
			s.mu.Unlock()

			if err != nil {
				return nil, err
			}
			return client, nil
		}

		// Another initialization is in flight; wait for it.
		pending := s.pending
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pending:
		}

		s.mu.Lock()
		if s.client != nil {
			s.refs++
			s.mu.Unlock()
			return s.client, nil
		}
		err := s.initErr
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		// Initialization succeeded but was already torn down; retry.
	}
}

// Release drops one reference. The last release tears the client down.
func (s *ScorerSession) Release() {
	s.mu.Lock()
	if s.refs == 0 {
		s.mu.Unlock()
		return
	}
	s.refs--
	var victim *ScorerClient
	if s.refs == 0 {
		victim = s.client
		s.client = nil
	}
	s.mu.Unlock()

	if victim != nil && s.teardown != nil {
		s.teardown(victim)
	}
}

// Active reports whether a live client is currently held.
func (s *ScorerSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}
