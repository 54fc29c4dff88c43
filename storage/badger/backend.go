package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const (
	// maxConflictRetries bounds how often a write transaction is retried
	// after an optimistic concurrency conflict.
	maxConflictRetries = 10
	conflictBackoff    = 2 * time.Millisecond
)

// Backend owns the badger database holding jobs, chunks and vectors.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

// badgerLog routes badger's printf logging into slog. Badger's info chatter
// is demoted to debug.
type badgerLog struct{ *slog.Logger }

var _ badger.Logger = badgerLog{}

func (l badgerLog) Errorf(f string, v ...any)   { l.Error(fmt.Sprintf(f, v...)) }
func (l badgerLog) Warningf(f string, v ...any) { l.Warn(fmt.Sprintf(f, v...)) }
func (l badgerLog) Infof(f string, v ...any)    { l.Debug(fmt.Sprintf(f, v...)) }
func (l badgerLog) Debugf(f string, v ...any)   { l.Debug(fmt.Sprintf(f, v...)) }

// OpenBackend opens the database directory at dir, creating it if needed.
// With inMemory set, dir is ignored and nothing touches the disk.
func OpenBackend(dir string, inMemory bool) (*Backend, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	if !inMemory {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(dir)
	}

	logger := slog.Default().With("component", "badger")
	opts = opts.WithLogger(badgerLog{logger}).WithCompression(options.None)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening job store: %w", err)
	}
	return &Backend{db: db, logger: logger}, nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

// Close closes the database. Every later operation fails with ErrStorageClosed.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed reports whether Close was called.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

func (b *Backend) txn(write bool, fn func(tx *badger.Txn) error) error {
	if b.db.IsClosed() {
		return errClosed
	}
	tx := b.db.NewTransaction(write)
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a read-write transaction and commits it. Commits that
// lose an optimistic conflict are retried with a growing pause, so fn must be
// safe to run more than once.
func (b *Backend) Update(fn func(tx *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = b.txn(true, func(tx *badger.Txn) error {
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit()
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		b.logger.Debug("transaction conflict", "attempt", attempt)
		time.Sleep(conflictBackoff * time.Duration(attempt))
	}
	return err
}

// View runs fn in a read-only transaction.
func (b *Backend) View(fn func(tx *badger.Txn) error) error {
	return b.txn(false, fn)
}

// scanKeys collects every key under prefix.
func (b *Backend) scanKeys(prefix []byte) ([][]byte, error) {
	var keys [][]byte
	err := b.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// deleteKeys removes keys in bounded write transactions to stay under
// badger's transaction size limit.
func (b *Backend) deleteKeys(keys [][]byte) error {
	const batch = 1000
	for start := 0; start < len(keys); start += batch {
		end := min(start+batch, len(keys))
		err := b.Update(func(tx *badger.Txn) error {
			for _, k := range keys[start:end] {
				if err := tx.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
