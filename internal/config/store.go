package config

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/UsageDeck/internal/provider"
)

const cacheTTL = 5 * time.Second

// Store serves the current configuration, re-reading the file at most once
// per cacheTTL. A failed reload keeps the last good configuration.
type Store struct {
	path string

	mu       sync.RWMutex
	current  *Config
	loadedAt time.Time
}

// NewStore creates a store bound to the given file. The initial load is
// performed eagerly so startup fails fast on a broken file.
func NewStore(path string) (*Store, error) {
	cfg, errLoad := Load(path)
	if errLoad != nil {
		return nil, errLoad
	}
	return &Store{path: path, current: cfg, loadedAt: time.Now()}, nil
}

// Path returns the configuration file path.
func (s *Store) Path() string {
	return s.path
}

// Current returns the cached configuration, reloading from disk when the
// cache entry is older than cacheTTL.
func (s *Store) Current() *Config {
	s.mu.RLock()
	if time.Since(s.loadedAt) < cacheTTL {
		cfg := s.current
		s.mu.RUnlock()
		return cfg
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.loadedAt) < cacheTTL {
		return s.current
	}
	cfg, errLoad := Load(s.path)
	if errLoad != nil {
		log.WithError(errLoad).Warnf("config: reload failed, keeping previous configuration")
		s.loadedAt = time.Now()
		return s.current
	}
	s.current = cfg
	s.loadedAt = time.Now()
	return s.current
}

// Reload re-reads the configuration file immediately, bypassing the cache.
// Unlike Current, the load error is propagated to the caller; the cached
// configuration is replaced only on success.
func (s *Store) Reload() (*Config, error) {
	cfg, errLoad := Load(s.path)
	if errLoad != nil {
		return nil, errLoad
	}
	s.mu.Lock()
	s.current = cfg
	s.loadedAt = time.Now()
	s.mu.Unlock()
	return cfg, nil
}

// Providers returns the current provider list.
func (s *Store) Providers() []provider.Config {
	return s.Current().Providers
}

// Invalidate drops the cache so the next Current call re-reads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}
