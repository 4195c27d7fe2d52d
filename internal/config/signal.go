package config

import "sync"

// Signal is a broadcast change notification: every successful mutation
// bumps Version and closes/recreates the wait channel, waking every
// waiter. Consumers either poll Version() between cycles or block on
// Changed() until the next mutation.
type Signal struct {
	mu      sync.Mutex
	version uint64
	ch      chan struct{}
}

func newSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Version returns the current change counter.
func (s *Signal) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Changed returns a channel that closes the next time a mutation commits.
func (s *Signal) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

func (s *Signal) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	close(s.ch)
	s.ch = make(chan struct{})
}
