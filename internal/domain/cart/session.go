// internal/domain/cart/session.go
package cart

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// ServerFactory builds a user cart for an access token
type ServerFactory func(token string) *ServerStore

// Session holds the active cart and switches it on login and logout
type Session struct {
	guest    *GuestStore
	connect  ServerFactory
	migrator *Migrator
	log      logrus.FieldLogger

	mu     sync.RWMutex
	active Store
}

// NewSession starts in guest mode
func NewSession(guest *GuestStore, connect ServerFactory, migrator *Migrator, log logrus.FieldLogger) *Session {
	return &Session{
		guest:    guest,
		connect:  connect,
		migrator: migrator,
		log:      log,
		active:   guest,
	}
}

// Active returns the store currently backing the cart
func (s *Session) Active() Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Mode returns the active cart's mode
func (s *Session) Mode() Mode {
	return s.Active().Mode()
}

// Login loads the user cart, migrates the guest cart into it and makes it
// active. If the user cart cannot be loaded the session stays in guest mode.
func (s *Session) Login(ctx context.Context, token string) (MigrationReport, error) {
	user := s.connect(token)
	if err := user.Refresh(ctx); err != nil {
		return MigrationReport{}, err
	}

	report := s.migrator.Migrate(ctx, s.guest, user)

	s.mu.Lock()
	s.active = user
	s.mu.Unlock()

	s.log.WithField("mode", ModeUser).Info("Cart session switched")
	return report, nil
}

// Logout reactivates the guest cart from its persisted state. The user cart is
// left as it is on the server.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.guest.Reload(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.active = s.guest
	s.mu.Unlock()

	s.log.WithField("mode", ModeGuest).Info("Cart session switched")
	return nil
}
