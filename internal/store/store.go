// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package store is the local key-value persistence of mediasync.
//
// It exposes a byte-string store with get, set, delete and prefix
// subscription over BadgerDB. Only single-key atomicity is promised; callers
// that need more keep related values under one key.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mediasync/internal/logging"
)

var (
	// ErrNotFound is returned by Get for missing keys.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Options configures Open.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; used by tests and --in-memory runs.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Store is a badger-backed byte-string store.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("Store opened")
	return &Store{db: db}, nil
}

// DB exposes the underlying database to packages that keep their own
// keyspace in it (the pending queue).
func (s *Store) DB() *badger.DB {
	return s.db
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Get returns a copy of the value stored at key.
func (s *Store) Get(key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// Set stores val at key.
func (s *Store) Set(key string, val []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	}); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value at key into v.
func (s *Store) GetJSON(key string, v interface{}) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func (s *Store) SetJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data)
}

// Subscribe calls fn for every write under prefix until ctx is cancelled.
// Deletions are delivered with a nil value. It blocks; run it in a goroutine.
func (s *Store) Subscribe(ctx context.Context, prefix string, fn func(key string, val []byte)) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Subscribe(ctx, func(list *badger.KVList) error {
		for _, kv := range list.Kv {
			var val []byte
			if len(kv.Value) > 0 {
				val = kv.Value
			}
			fn(string(kv.Key), val)
		}
		return nil
	}, []pb.Match{{Prefix: []byte(prefix)}})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("subscribe %s: %w", prefix, err)
	}
	return nil
}

// CollectGarbage runs badger value log GC until a pass finds nothing to
// rewrite. In-memory stores have no value log and return nil.
func (s *Store) CollectGarbage(discardRatio float64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.db.Opts().InMemory {
		return nil
	}
	runs := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
		runs++
	}
	logging.Debug().Int("rewrites", runs).Msg("Value log GC complete")
	return nil
}

// Close closes the database. It is safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Store closed")
	return nil
}
