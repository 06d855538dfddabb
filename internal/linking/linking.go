// Package linking issues short-lived codes that connect a Telegram chat to an account.
package linking

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// DefaultTTL is how long a code stays redeemable
const DefaultTTL = 5 * time.Minute

const codeDigits = 6

// ErrCodeNotFound is returned for unknown, expired or already redeemed codes
var ErrCodeNotFound = errors.New("connection code not found or expired")

type entry struct {
	chatID    int64
	expiresAt time.Time
}

// Store maps connection codes to chat ids. Expiry is checked on read.
type Store struct {
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)

	mu     sync.Mutex
	codes  map[string]entry
	byChat map[int64]string
}

// NewStore creates a code store; ttl <= 0 uses DefaultTTL and a nil now uses time.Now
func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		ttl:      ttl,
		now:      now,
		generate: randomCode,
		codes:    make(map[string]entry),
		byChat:   make(map[int64]string),
	}
}

// TTL returns the code lifetime
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue returns a fresh code for chatID, replacing any earlier code for the same chat
func (s *Store) Issue(chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byChat[chatID]; ok {
		delete(s.codes, old)
	}

	now := s.now()
	for attempt := 0; attempt < 10; attempt++ {
		code, err := s.generate()
		if err != nil {
			return "", err
		}
		if e, taken := s.codes[code]; taken {
			if now.Before(e.expiresAt) {
				continue
			}
			// the expired holder must not keep pointing at a code it no longer owns
			if s.byChat[e.chatID] == code {
				delete(s.byChat, e.chatID)
			}
		}
		s.codes[code] = entry{chatID: chatID, expiresAt: now.Add(s.ttl)}
		s.byChat[chatID] = code
		return code, nil
	}
	return "", fmt.Errorf("failed to allocate a unique connection code")
}

// Redeem consumes code and returns the chat it was issued for
func (s *Store) Redeem(code string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.codes[code]
	if !ok {
		return 0, ErrCodeNotFound
	}
	delete(s.codes, code)
	if s.byChat[e.chatID] == code {
		delete(s.byChat, e.chatID)
	}
	if !s.now().Before(e.expiresAt) {
		return 0, ErrCodeNotFound
	}
	return e.chatID, nil
}

// Purge drops expired codes and returns how many were removed
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for code, e := range s.codes {
		if !now.Before(e.expiresAt) {
			delete(s.codes, code)
			if s.byChat[e.chatID] == code {
				delete(s.byChat, e.chatID)
			}
			n++
		}
	}
	return n
}

// Len returns the number of stored codes, expired or not
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate connection code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
