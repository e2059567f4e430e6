// Package auth provides credential checks for the login exchange and the
// admin API.
//
// It intentionally avoids policy decisions and storage concerns.
package auth

import (
	"crypto/subtle"
	"errors"
	"sync"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an authentication token.
type Validator interface {
	Validate(token string) error
}

// StaticToken is a simple validator for a single shared token.
// It is intended only for development and proofs of concept.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// FuncValidator adapts a function into a Validator.
type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// CredentialStore checks account credentials during the login exchange.
type CredentialStore interface {
	Check(account, secret string) error
}

// StaticCredentials is an in-memory credential store keyed by account name.
type StaticCredentials struct {
	mu       sync.RWMutex
	accounts map[string]string
}

func NewStaticCredentials(accounts map[string]string) *StaticCredentials {
	copied := make(map[string]string, len(accounts))
	for account, secret := range accounts {
		copied[account] = secret
	}
	return &StaticCredentials{accounts: copied}
}

func (s *StaticCredentials) Check(account, secret string) error {
	s.mu.RLock()
	want, ok := s.accounts[account]
	s.mu.RUnlock()
	if !ok || want == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Add inserts or replaces one account credential.
func (s *StaticCredentials) Add(account, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = secret
}
