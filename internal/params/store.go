// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package params

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	_ "modernc.org/sqlite"
)

// Store persists parameters by wire key. Get returns ErrNotFound for keys
// never stored. Set may buffer; Persist makes buffered values durable.
type Store interface {
	Get(key string) (float64, error)
	Set(key string, v float64) error
	Persist() error
}

// Load copies every stored key into p. Keys that are not stored keep their
// current value.
func Load(s Store, p *Params) error {
	for _, k := range Keys() {
		v, err := s.Get(k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("params: load %s: %w", k, err)
		}
		if err := p.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// MemoryStore keeps parameters in a map.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]float64)}
}

func (m *MemoryStore) Get(key string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, nil
}

func (m *MemoryStore) Set(key string, v float64) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return fmt.Errorf("params: invalid key %q", key)
	}
	m.mu.Lock()
	m.values[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Persist() error { return nil }

// SQLiteStore keeps parameters in a sqlite table. Writes are buffered in
// memory until Persist so the control loop never waits on the database.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[string]float64
	dirty map[string]bool
}

// OpenSQLite opens (and creates) the parameter database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("params: open %s: %w", path, err)
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS params (
			key        TEXT PRIMARY KEY,
			value      DOUBLE,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("params: create table: %w", err)
	}
	s := &SQLiteStore{db: db, cache: make(map[string]float64), dirty: make(map[string]bool)}
	if err := s.fill(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// fill reads every row into the cache. NaN is stored as NULL.
func (s *SQLiteStore) fill() error {
	rows, err := s.db.Query(`SELECT key, value FROM params`)
	if err != nil {
		return fmt.Errorf("params: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var v sql.NullFloat64
		if err := rows.Scan(&key, &v); err != nil {
			return fmt.Errorf("params: scan: %w", err)
		}
		if v.Valid {
			s.cache[key] = v.Float64
		} else {
			s.cache[key] = math.NaN()
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) Get(key string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, nil
}

func (s *SQLiteStore) Set(key string, v float64) error {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return fmt.Errorf("params: invalid key %q", key)
	}
	s.mu.Lock()
	s.cache[key] = v
	s.dirty[key] = true
	s.mu.Unlock()
	return nil
}

// Persist writes the buffered values in one transaction.
func (s *SQLiteStore) Persist() error {
	s.mu.Lock()
	if len(s.dirty) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := make(map[string]sql.NullFloat64, len(s.dirty))
	for k := range s.dirty {
		v := s.cache[k]
		pending[k] = sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return s.requeue(pending, fmt.Errorf("params: begin: %w", err))
	}
	for k, v := range pending {
		_, err := tx.Exec(`INSERT INTO params (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`, k, v)
		if err != nil {
			tx.Rollback()
			return s.requeue(pending, fmt.Errorf("params: write %s: %w", k, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return s.requeue(pending, fmt.Errorf("params: commit: %w", err))
	}
	return nil
}

// requeue marks failed writes dirty again.
func (s *SQLiteStore) requeue(pending map[string]sql.NullFloat64, err error) error {
	s.mu.Lock()
	for k := range pending {
		s.dirty[k] = true
	}
	s.mu.Unlock()
	return err
}

func (s *SQLiteStore) Close() error {
	if err := s.Persist(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
