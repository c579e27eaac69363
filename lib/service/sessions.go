package service

import (
	"context"
	"sync"
	"time"

	"github.com/ilphub/ilphub.go/psk"
	"github.com/labstack/gommon/random"
)

// Session is one customer's payment session: the shared secret handed
// out in the Pay header and the delivery callback for paid letters. The
// secret lives only as long as the session.
type Session struct {
	ID        string
	Secret    []byte
	CreatedAt time.Time
	Deliver   func(letter string)
}

// SessionStore owns all live sessions. It is the only place secrets are
// held and the only source the shop verifies against; both event-source
// goroutines and HTTP handlers touch it, hence the lock.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (s *SessionStore) New(deliver func(letter string)) (*Session, error) {
	secret, err := psk.NewSharedSecret()
	if err != nil {
		return nil, err
	}
	session := &Session{
		ID:        random.String(12, alphaNumBytes),
		Secret:    secret,
		CreatedAt: timeNow(),
		Deliver:   deliver,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return session, nil
}

func (s *SessionStore) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for id, session := range s.sessions {
		if now.After(session.CreatedAt.Add(s.ttl)) {
			delete(s.sessions, id)
			swept++
		}
	}
	return swept
}

func (s *SessionStore) StartSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.SweepExpired(now)
			}
		}
	}()
}
