package authz

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudx-io/escrowauction/core"
)

// NonceStore remembers the nonces consumed by verified operations.
// ledger/sqlite.Host is a NonceStore that survives restarts.
type NonceStore interface {
	// UseNonce records nonce for signer and reports whether it was unused.
	UseNonce(ctx context.Context, signer core.Identity, nonce string) (bool, error)
}

// DefaultNonceCapacity bounds how many nonces a NonceCache remembers.
const DefaultNonceCapacity = 100_000

// NonceCache remembers recently used operation nonces in memory. Once full, the
// oldest nonce is forgotten first, and nothing survives a restart.
type NonceCache struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	next  int
}

func NewNonceCache(capacity int) *NonceCache {
	if capacity <= 0 {
		capacity = DefaultNonceCapacity
	}
	return &NonceCache{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Use records nonce and reports whether it was fresh.
func (c *NonceCache) Use(nonce string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[nonce]; ok {
		return false
	}
	if len(c.order) < cap(c.order) {
		c.order = append(c.order, nonce)
	} else {
		delete(c.seen, c.order[c.next])
		c.order[c.next] = nonce
		c.next = (c.next + 1) % len(c.order)
	}
	c.seen[nonce] = struct{}{}
	return true
}

// UseNonce implements NonceStore.
func (c *NonceCache) UseNonce(_ context.Context, signer core.Identity, nonce string) (bool, error) {
	return c.Use(signer.String() + "/" + nonce), nil
}

// NewNonce returns a random nonce suitable for an Operation.
func NewNonce() string { return uuid.NewString() }
