package auth

import (
	"sync"
	"time"
)

type pendingChallenge struct {
	value   string
	expires time.Time
}

// ChallengeStore keeps at most one outstanding challenge per public key.
// A challenge can be taken once.
type ChallengeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	pending map[string]pendingChallenge
}

func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pendingChallenge),
	}
}

// Issue creates a challenge for publicKey, replacing any earlier one.
func (s *ChallengeStore) Issue(publicKey string) (string, error) {
	value, err := GenerateChallenge()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked()
	s.pending[publicKey] = pendingChallenge{value: value, expires: s.now().Add(s.ttl)}
	return value, nil
}

// Take returns and forgets the outstanding challenge for publicKey.
func (s *ChallengeStore) Take(publicKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[publicKey]
	if !ok {
		return "", false
	}
	delete(s.pending, publicKey)
	if s.now().After(p.expires) {
		return "", false
	}
	return p.value, true
}

func (s *ChallengeStore) gcLocked() {
	now := s.now()
	for k, p := range s.pending {
		if now.After(p.expires) {
			delete(s.pending, k)
		}
	}
}
