// Package sitevol owns the durable per-site volume locks: an in-memory
// table loaded once at process start and written through to SQLite on
// every mutation.
//
// The in-memory table is the source of truth for the process lifetime.
// A failed durable write is logged and otherwise ignored: no rollback, no
// retry, no user-visible error. A failed initial read starts the table
// empty. Records are created or overwritten by Set and never deleted.
package sitevol

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/karune/tabvol/dbopen"
	"github.com/karune/tabvol/media"
)

// Schema is the site-volume table. One row per hostname, volume in [0,1].
const Schema = `
CREATE TABLE IF NOT EXISTS site_volumes (
	host       TEXT PRIMARY KEY,
	volume     REAL NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store holds the locked volume per site identity (hostname).
// Single-owner: all access goes through its methods.
type Store struct {
	mu      sync.RWMutex
	volumes map[string]float64
	db      *sql.DB
	logger  *slog.Logger
}

// Open opens (or creates) the database at path, applies the schema, and
// loads the whole table into memory. A load failure is logged and the
// table starts empty; Open only fails when the database itself cannot be
// opened.
func Open(path string, logger *slog.Logger, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db, logger), nil
}

// NewWithDB builds a Store over an already-open database (tests use this
// with dbopen.OpenMemory). It performs the one-shot load.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		volumes: make(map[string]float64),
		db:      db,
		logger:  logger,
	}
	s.load()
	return s
}

// load reads the whole table once. No retry: a failure leaves the table
// empty and the process carries on.
func (s *Store) load() {
	rows, err := s.db.Query(`SELECT host, volume FROM site_volumes`)
	if err != nil {
		s.logger.Error("sitevol: load failed, starting empty", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var host string
		var vol float64
		if err := rows.Scan(&host, &vol); err != nil {
			s.logger.Error("sitevol: scan row", "error", err)
			continue
		}
		s.volumes[host] = media.ClampVolume(vol)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("sitevol: load rows", "error", err)
	}

	s.logger.Info("sitevol: loaded", "sites", len(s.volumes))
}

// Get returns the locked volume for a site, if one was ever set.
func (s *Store) Get(host string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volumes[host]
	return v, ok
}

// All returns a snapshot copy of the full table, for display.
func (s *Store) All() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.volumes))
	for h, v := range s.volumes {
		out[h] = v
	}
	return out
}

// Set creates or overwrites the lock for host and writes it through to
// durable storage immediately. The memory update always wins: a write
// failure is logged and the in-memory value stands.
func (s *Store) Set(ctx context.Context, host string, volume float64) {
	if host == "" {
		return
	}
	volume = media.ClampVolume(volume)

	s.mu.Lock()
	s.volumes[host] = volume
	s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_volumes (host, volume, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET volume = excluded.volume, updated_at = excluded.updated_at`,
		host, volume, time.Now().Unix())
	if err != nil {
		s.logger.Error("sitevol: durable write failed", "host", host, "error", err)
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Len reports the number of locked sites.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.volumes)
}
