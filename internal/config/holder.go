package config

import (
	"sync"
	"time"
)

// Holder is the live configuration of a serve process. The file path is
// fixed at construction; the resolved config is swapped on SIGHUP.
type Holder struct {
	path string

	mu       sync.RWMutex
	cfg      *Resolved
	loadedAt time.Time
}

// NewHolder wraps the config resolved from path at startup.
func NewHolder(cfg *Resolved, path string) *Holder {
	return &Holder{
		path:     path,
		cfg:      cfg,
		loadedAt: time.Now(),
	}
}

// Config returns the current snapshot. Callers must not modify it.
func (h *Holder) Config() *Resolved {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// LoadedAt is when the current snapshot was installed.
func (h *Holder) LoadedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.loadedAt
}

func (h *Holder) Path() string {
	return h.path
}

// Swap installs cfg and returns the snapshot it replaced.
func (h *Holder) Swap(cfg *Resolved) (prev *Resolved) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev = h.cfg
	h.cfg = cfg
	h.loadedAt = time.Now()

	return prev
}
