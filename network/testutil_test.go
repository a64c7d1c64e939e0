package network

import (
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"gomint/apperr"
	"gomint/auth"
	"gomint/storage"
)

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]storage.User
}

func (m *memoryUsers) Lookup(wallet string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[wallet]
	if !ok {
		return storage.User{}, apperr.ErrNotFound
	}
	return user, nil
}

func (m *memoryUsers) Register(wallet string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]storage.User)
	}
	user := storage.User{WalletAddress: wallet}
	m.users[wallet] = user
	return user, nil
}

const testJWTSecret = "network-test-secret"

func testAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	return auth.NewAuthenticator(auth.Options{
		JWTSecret:    testJWTSecret,
		AutoRegister: true,
	}, &memoryUsers{}, zaptest.NewLogger(t))
}
