package brokers

import (
	"context"
	"sync"
)

// Session tracks whether an adapter has authenticated with its broker. The
// lock only guards the fields; authentication itself runs unlocked.
type Session struct {
	mu            sync.Mutex
	authenticated bool
	accountID     string
	reference     string
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

func (s *Session) Establish(accountID string) {
	s.EstablishWithReference(accountID, "")
}

// EstablishWithReference also keeps a broker handle for the account, such
// as an account hash used in URLs.
func (s *Session) EstablishWithReference(accountID string, reference string) {
	s.mu.Lock()
	s.authenticated = true
	s.accountID = accountID
	s.reference = reference
	s.mu.Unlock()
}

func (s *Session) Reference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reference
}

// Invalidate forgets the session after the broker rejected our credentials.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
}

// Ensure runs authenticate when the session is not established yet.
func (s *Session) Ensure(ctx context.Context, authenticate func(context.Context) error) error {
	if s.Authenticated() {
		return nil
	}
	return authenticate(ctx)
}
