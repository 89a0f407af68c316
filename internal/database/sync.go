package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tanmayop9/discord-antinuke/internal/config"
	"github.com/Tanmayop9/discord-antinuke/internal/logging"
	"github.com/Tanmayop9/discord-antinuke/internal/models"
)

type tenantEntry struct {
	mu    sync.RWMutex
	cfg   *config.TenantConfig
	dirty bool
}

// Store keeps tenant profiles in memory and writes them back to SQLite.
// Save only marks a tenant dirty; the autosave loop and Shutdown persist it.
type Store struct {
	db                *Database
	defaultPunishment models.PunishmentKind
	autosave          time.Duration

	load func(tenantID string) (*config.TenantConfig, bool, error)

	mu      sync.Mutex
	tenants map[string]*tenantEntry
}

func NewStore(db *Database, defaultPunishment models.PunishmentKind, autosave time.Duration) *Store {
	if autosave <= 0 {
		autosave = 15 * time.Second
	}
	if defaultPunishment == "" {
		defaultPunishment = models.PunishBan
	}
	return &Store{
		db:                db,
		defaultPunishment: defaultPunishment,
		autosave:          autosave,
		load:              db.LoadTenant,
		tenants:           make(map[string]*tenantEntry),
	}
}

func (s *Store) DB() *Database {
	return s.db
}

// entry returns the tenant's cached profile, loading it on first use. The
// load runs outside s.mu so one tenant's first read never stalls another's.
// When two callers race on a cold tenant the first insert wins.
func (s *Store) entry(tenantID string) *tenantEntry {
	s.mu.Lock()
	e, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if ok {
		return e
	}

	cfg, found, err := s.load(tenantID)
	if err != nil {
		logging.Error("[STORE] Failed to load %s, using defaults: %v", tenantID, err)
	}
	if !found || err != nil {
		cfg = config.NewTenantConfig(tenantID, s.defaultPunishment)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tenants[tenantID]; ok {
		return e
	}
	e = &tenantEntry{cfg: cfg}
	s.tenants[tenantID] = e
	return e
}

// Get returns a copy of the tenant's profile, creating defaults on first use.
func (s *Store) Get(tenantID string) *config.TenantConfig {
	e := s.entry(tenantID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.Clone()
}

// Save replaces the tenant's profile and marks it dirty.
func (s *Store) Save(tenantID string, cfg *config.TenantConfig) {
	e := s.entry(tenantID)
	c := cfg.Clone()
	c.TenantID = tenantID
	c.UpdatedAt = time.Now()

	e.mu.Lock()
	e.cfg = c
	e.dirty = true
	e.mu.Unlock()
}

// Update applies fn to the tenant's profile under its write lock and marks
// it dirty. Use it for read-modify-write changes such as counters.
func (s *Store) Update(tenantID string, fn func(cfg *config.TenantConfig)) *config.TenantConfig {
	e := s.entry(tenantID)
	e.mu.Lock()
	defer e.mu.Unlock()

	fn(e.cfg)
	e.cfg.UpdatedAt = time.Now()
	e.dirty = true
	return e.cfg.Clone()
}

// Flush writes the tenant synchronously if it is dirty.
func (s *Store) Flush(tenantID string) error {
	s.mu.Lock()
	e, ok := s.tenants[tenantID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.flushEntry(e)
}

func (s *Store) flushEntry(e *tenantEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil
	}
	if err := s.db.SaveTenant(e.cfg); err != nil {
		return fmt.Errorf("flush %s: %w", e.cfg.TenantID, err)
	}
	e.dirty = false
	return nil
}

// FlushAll writes every dirty tenant and returns the joined errors.
func (s *Store) FlushAll() error {
	s.mu.Lock()
	entries := make([]*tenantEntry, 0, len(s.tenants))
	for _, e := range s.tenants {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := s.flushEntry(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dirty reports how many tenants have unsaved changes.
func (s *Store) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.tenants {
		e.mu.RLock()
		if e.dirty {
			n++
		}
		e.mu.RUnlock()
	}
	return n
}

// Serve is the autosave loop. It flushes once more when ctx ends.
func (s *Store) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.autosave)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.FlushAll(); err != nil {
				logging.Error("[STORE] Final autosave failed: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := s.FlushAll(); err != nil {
				logging.Error("[STORE] Autosave failed: %v", err)
			}
		}
	}
}

func (s *Store) String() string {
	return "config-store"
}

// Shutdown flushes every dirty tenant and closes the database.
func (s *Store) Shutdown() error {
	flushErr := s.FlushAll()
	if flushErr != nil {
		logging.Error("[STORE] Flush on shutdown failed: %v", flushErr)
	}
	return errors.Join(flushErr, s.db.Close())
}
