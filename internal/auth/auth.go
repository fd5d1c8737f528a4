// Package auth holds the authentication boundary shared by the session
// service client and the engines: a token provider and a logout signal.
package auth

import (
	"context"
	"errors"
	"sync"
)

// ErrNoToken is returned by a provider that has no credential to offer.
var ErrNoToken = errors.New("auth: no token")

// TokenProvider supplies the bearer credential for session service calls.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider backed by a fixed string.
type StaticToken string

// Token returns the static value, or ErrNoToken when it is empty.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// Signal broadcasts "the session credential is gone" to every subscriber.
// The boundary that detects the loss publishes; engines subscribe and
// abandon their in-memory session. The zero value is ready to use.
type Signal struct {
	mu      sync.Mutex
	nextID  int
	subs    map[int]func()
	expired bool
}

// NewSignal returns an empty signal.
func NewSignal() *Signal {
	return &Signal{}
}

// Subscribe registers fn and returns a function that removes it.
// fn runs on the publisher's goroutine and must not block.
func (s *Signal) Subscribe(fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]func())
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Publish notifies every current subscriber once.
func (s *Signal) Publish() {
	s.mu.Lock()
	s.expired = true
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Expired reports whether Publish has been called since the last Reset.
func (s *Signal) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Reset clears the expired flag after the user signs in again.
func (s *Signal) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = false
}
