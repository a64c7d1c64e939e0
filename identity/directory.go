// Package identity resolves wallet addresses to known users.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"gomint/apperr"
	"gomint/storage"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 5 * time.Minute
)

// Store is the subset of storage.Store the directory reads.
type Store interface {
	GetUser(walletAddress string) (*storage.User, error)
	EnsureUser(walletAddress string) (*storage.User, bool, error)
}

// Options configures the lookup cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Directory looks up identities and caches positive results. Misses are never
// cached so a freshly registered identity is visible on the next lookup.
type Directory struct {
	store  Store
	cache  *expirable.LRU[string, storage.User]
	logger *zap.Logger
}

// NewDirectory builds a Directory over store.
func NewDirectory(store Store, opts Options, logger *zap.Logger) *Directory {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		store:  store,
		cache:  expirable.NewLRU[string, storage.User](opts.CacheSize, nil, opts.CacheTTL),
		logger: logger.Named("identity"),
	}
}

// Lookup returns the user for walletAddress or an error wrapping apperr.ErrNotFound.
func (d *Directory) Lookup(walletAddress string) (storage.User, error) {
	walletAddress = strings.TrimSpace(walletAddress)
	if walletAddress == "" {
		return storage.User{}, fmt.Errorf("wallet address is required: %w", apperr.ErrInvalidArgument)
	}
	if user, ok := d.cache.Get(walletAddress); ok {
		return user, nil
	}

	user, err := d.store.GetUser(walletAddress)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return storage.User{}, fmt.Errorf("identity %s: %w", walletAddress, apperr.ErrNotFound)
		}
		return storage.User{}, fmt.Errorf("lookup identity %s: %w", walletAddress, err)
	}

	d.cache.Add(walletAddress, *user)
	return *user, nil
}

// Register makes sure walletAddress is a known identity.
func (d *Directory) Register(walletAddress string) (storage.User, error) {
	user, created, err := d.store.EnsureUser(walletAddress)
	if err != nil {
		return storage.User{}, fmt.Errorf("register identity %s: %w", walletAddress, err)
	}
	if created {
		d.logger.Info("identity registered", zap.String("wallet", walletAddress))
	}
	d.cache.Add(user.WalletAddress, *user)
	return *user, nil
}

// Invalidate drops a cached entry after an external change to the user row.
func (d *Directory) Invalidate(walletAddress string) {
	d.cache.Remove(walletAddress)
}
