package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tokenTTL is how long an issued access token stays valid.
const tokenTTL = 12 * time.Hour

// tokenStore issues and validates opaque bearer tokens for the control
// surface. Tokens live in memory only; a server restart logs everyone out.
type tokenStore struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func newTokenStore() *tokenStore {
	return &tokenStore{
		tokens: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue creates a new token valid for [tokenTTL].
func (s *tokenStore) Issue() string {
	token := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = s.now().Add(tokenTTL)
	return token
}

// Valid reports whether token exists and has not expired. Expired tokens are
// pruned as a side effect.
func (s *tokenStore) Valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for t, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, t)
		}
	}

	_, ok := s.tokens[token]
	return ok
}

// passwordMatches compares the submitted password against the configured
// one in constant time. An empty configured password accepts anything.
func passwordMatches(configured, submitted string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(submitted)) == 1
}

// requestToken extracts the bearer token from an Authorization header or,
// for WebSocket upgrades where headers are awkward, a "token" query
// parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
