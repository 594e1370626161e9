package crypto

import (
	"errors"
	"sync"
)

// ErrSecretZeroed is returned by Use after the secret has been wiped.
var ErrSecretZeroed = errors.New("secret has been zeroed")

// Secret owns a byte slice of key material and wipes it on Zero.
// Use holds the secret for the duration of fn so a concurrent Zero waits.
type Secret struct {
	mu sync.Mutex
	b  []byte
}

// NewSecret takes ownership of b.
func NewSecret(b []byte) *Secret {
	return &Secret{b: b}
}

// Bytes exposes the key material. The slice is invalid after Zero.
func (s *Secret) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b
}

func (s *Secret) Use(fn func(key []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.b == nil {
		return ErrSecretZeroed
	}
	return fn(s.b)
}

// Zero wipes the key material; safe to call more than once.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	Zero(s.b)
	s.b = nil
}

func (s *Secret) Zeroed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b == nil
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
