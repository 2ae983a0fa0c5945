package credstore

import (
	"context"
	"sync"
)

// Cached keeps an in-memory snapshot of a backing Store so hot-path reads
// skip disk and network. Writes go to the backing store first; the snapshot
// only changes after the backing write succeeded.
type Cached struct {
	backing Store

	mu     sync.RWMutex
	loaded bool
	cred   *Credential
}

// NewCached wraps backing. The first Get loads the snapshot.
func NewCached(backing Store) *Cached {
	return &Cached{backing: backing}
}

// Get returns a copy of the snapshot, loading it on first use.
func (c *Cached) Get(ctx context.Context) (*Credential, error) {
	c.mu.RLock()
	if c.loaded {
		cred := copyCredential(c.cred)
		c.mu.RUnlock()

		return cred, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		cred, err := c.backing.Get(ctx)
		if err != nil {
			return nil, err
		}

		c.cred = cred
		c.loaded = true
	}

	return copyCredential(c.cred), nil
}

// Set writes through and replaces the snapshot.
func (c *Cached) Set(ctx context.Context, cred Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backing.Set(ctx, cred); err != nil {
		return err
	}

	c.cred = &cred
	c.loaded = true

	return nil
}

// Clear writes through and empties the snapshot.
func (c *Cached) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.backing.Clear(ctx); err != nil {
		return err
	}

	c.cred = nil
	c.loaded = true

	return nil
}

// Invalidate drops the snapshot so the next Get reloads from the backing
// store. Called when another process changed the stored credential.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cred = nil
	c.loaded = false
}

func copyCredential(c *Credential) *Credential {
	if c == nil {
		return nil
	}

	cp := *c

	return &cp
}
