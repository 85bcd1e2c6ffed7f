// Package secure keeps decrypted credential material in guarded memory.
package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrEmptySecret is returned when a secret has no bytes to protect.
var ErrEmptySecret = errors.New("secure: empty secret")

// ErrSecretDestroyed is returned by Use after Destroy.
var ErrSecretDestroyed = errors.New("secure: secret destroyed")

// Secret holds plaintext credential bytes inside a memguard enclave.
// The plaintext only exists in a locked buffer for the duration of Use.
type Secret struct {
	mu      sync.RWMutex
	enclave *memguard.Enclave
}

// NewSecret seals data into an enclave. data is wiped by memguard.
func NewSecret(data []byte) (*Secret, error) {
	if len(data) == 0 {
		return nil, ErrEmptySecret
	}
	return &Secret{enclave: memguard.NewEnclave(data)}, nil
}

// NewSecretString is NewSecret for string input.
func NewSecretString(s string) (*Secret, error) {
	return NewSecret([]byte(s))
}

// Use opens the enclave, passes the plaintext to fn and wipes it afterwards.
// fn must not retain the slice.
func (s *Secret) Use(fn func(plaintext []byte) error) error {
	if s == nil {
		return ErrSecretDestroyed
	}
	s.mu.RLock()
	enclave := s.enclave
	s.mu.RUnlock()
	if enclave == nil {
		return ErrSecretDestroyed
	}
	buf, err := enclave.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Destroy drops the enclave. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.enclave = nil
	s.mu.Unlock()
}

// String never renders the plaintext.
func (s *Secret) String() string { return "[redacted]" }

// GoString never renders the plaintext.
func (s *Secret) GoString() string { return "[redacted]" }
