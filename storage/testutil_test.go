package storage

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, _ := newTestStoreWithClock(t)
	return store
}

func newTestStoreWithClock(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store.SetClock(mock)

	return store, mock
}

func mustCreateUser(t *testing.T, store *Store, walletAddress string) {
	t.Helper()

	if err := store.CreateUser(User{WalletAddress: walletAddress, Username: "user-" + walletAddress}); err != nil {
		t.Fatalf("create user %q: %v", walletAddress, err)
	}
}

func testEnvelope(tag string) Envelope {
	return Envelope{
		Ciphertext:    "Y2lwaGVy-" + tag,
		Salt:          "c2FsdA==",
		IV:            "aXY=",
		Tag:           "dGFn-" + tag,
		EncryptionKey: "00ff",
	}
}
