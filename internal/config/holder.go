package config

import (
	"fmt"
	"sync"
)

// Holder owns the active Config. It is constructed once at startup and passed
// to the components that need configuration; Reload swaps the snapshot.
type Holder struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewHolder wraps an already loaded config. path is used by Reload.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Get returns the current snapshot. Callers must treat it as read-only.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// Reload re-reads configuration from the holder's path. On error the
// previous snapshot stays active.
func (h *Holder) Reload() (*Config, error) {
	cfg, err := LoadFrom(h.path)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return cfg, nil
}
