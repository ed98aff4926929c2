// Mediasync - Multi-Device Library Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediasync

// Package wal is the persisted pending-operation queue.
//
// Operations produced while the device cannot reach the server are written
// to BadgerDB under "pending:<seq>" keys, where seq comes from a badger
// sequence so iteration order is append order. The queue is drained only as
// a batch after the server confirms receipt: Drain deletes exactly the
// entries that were flushed, so anything appended during the flush survives
// for the next one.
package wal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/mediasync/internal/logging"
	"github.com/tomtom215/mediasync/internal/metrics"
	"github.com/tomtom215/mediasync/internal/models"
)

var (
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("pending queue is closed")

	// ErrInvalidOperation is returned by Append for operations that fail validation.
	ErrInvalidOperation = errors.New("invalid operation")
)

const (
	prefixPending = "pending:"
	sequenceKey   = "seq:pending"

	// sequenceLease is how many sequence numbers badger reserves per disk write.
	sequenceLease = 64
)

// Entry is one queued operation.
type Entry struct {
	// ID is the badger key of the entry.
	ID        string           `json:"id"`
	Operation models.Operation `json:"operation"`
	QueuedAt  time.Time        `json:"queuedAt"`
}

// Stats reports queue counters.
type Stats struct {
	Pending      int64
	TotalAppends int64
	TotalDrained int64
}

// Queue is a durable FIFO of operations awaiting transport.
type Queue struct {
	db  *badger.DB
	seq *badger.Sequence

	pending      atomic.Int64
	totalAppends atomic.Int64
	totalDrained atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open attaches the queue to db. The database is owned by the caller and
// must outlive the queue.
func Open(db *badger.DB) (*Queue, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLease)
	if err != nil {
		return nil, fmt.Errorf("get pending sequence: %w", err)
	}

	q := &Queue{db: db, seq: seq}
	n, err := q.count()
	if err != nil {
		_ = seq.Release()
		return nil, err
	}
	q.pending.Store(n)
	metrics.PendingQueueDepth.Set(float64(n))

	if n > 0 {
		logging.Info().Int64("pending", n).Msg("Recovered pending operations")
	}
	return q, nil
}

func (q *Queue) checkOpen() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

// entryKey zero-pads seq so that lexical key order is numeric order.
func entryKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", prefixPending, seq)
}

// Append persists op at the tail of the queue.
func (q *Queue) Append(ctx context.Context, op models.Operation) (string, error) {
	if err := q.checkOpen(); err != nil {
		return "", err
	}
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	n, err := q.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next pending sequence: %w", err)
	}
	entry := Entry{ID: entryKey(n), Operation: op, QueuedAt: time.Now().UTC()}

	data, err := json.Marshal(&entry)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	if err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entry.ID), data)
	}); err != nil {
		return "", fmt.Errorf("write pending entry: %w", err)
	}

	q.totalAppends.Add(1)
	metrics.PendingQueueDepth.Set(float64(q.pending.Add(1)))
	return entry.ID, nil
}

// Pending returns every queued entry in append order.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	var entries []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()

			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping malformed pending entry")
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate pending entries: %w", err)
	}
	return entries, nil
}

// Operations returns the queued operations in append order.
func Operations(entries []Entry) []models.Operation {
	ops := make([]models.Operation, len(entries))
	for i, e := range entries {
		ops[i] = e.Operation
	}
	return ops
}

// Drain deletes the entries with the given ids in one batch.
func (q *Queue) Drain(ctx context.Context, ids []string) error {
	if err := q.checkOpen(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := q.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range ids {
		if err := wb.Delete([]byte(id)); err != nil {
			return fmt.Errorf("delete pending entry %s: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush pending drain: %w", err)
	}

	n, err := q.count()
	if err != nil {
		return err
	}
	q.totalDrained.Add(q.pending.Load() - n)
	q.pending.Store(n)
	metrics.PendingQueueDepth.Set(float64(n))
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return int(q.pending.Load())
}

// Stats returns a copy of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Pending:      q.pending.Load(),
		TotalAppends: q.totalAppends.Load(),
		TotalDrained: q.totalDrained.Load(),
	}
}

func (q *Queue) count() (int64, error) {
	var n int64
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count pending entries: %w", err)
	}
	return n, nil
}

// Close releases the sequence lease. The database stays open.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if err := q.seq.Release(); err != nil {
		return fmt.Errorf("release pending sequence: %w", err)
	}
	return nil
}
