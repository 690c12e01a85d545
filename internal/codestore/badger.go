package codestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/example/go-xcodec/internal/codes"
)

// BadgerOptions configures the badger-backed store.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string
	// Prefix is prepended to every key.
	Prefix string
	// InMemory keeps everything in memory; used by tests.
	InMemory bool
}

// Badger stores metadata and payload under two keys per ID:
// <prefix>meta/<id> (msgpack) and <prefix>data/<id> (container bytes).
type Badger struct {
	db     *badger.DB
	prefix string
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("codestore: badger dir is required")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(slogLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("codestore: open badger %s: %w", opts.Dir, err)
	}

	return &Badger{db: db, prefix: opts.Prefix}, nil
}

func (b *Badger) metaKey(id string) []byte { return []byte(b.prefix + "meta/" + id) }
func (b *Badger) dataKey(id string) []byte { return []byte(b.prefix + "data/" + id) }

func (b *Badger) Put(_ context.Context, seq *codes.Sequence, meta Meta) (string, error) {
	meta, payload, err := prepare(seq, meta)
	if err != nil {
		return "", err
	}

	mb, err := encodeMeta(meta)
	if err != nil {
		return "", err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.dataKey(meta.ID), payload); err != nil {
			return err
		}

		return txn.Set(b.metaKey(meta.ID), mb)
	})
	if err != nil {
		return "", fmt.Errorf("codestore: put %s: %w", meta.ID, err)
	}

	return meta.ID, nil
}

func (b *Badger) Get(_ context.Context, id string) (*Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	var mb, payload []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.metaKey(id))
		if err != nil {
			return err
		}

		if mb, err = item.ValueCopy(nil); err != nil {
			return err
		}

		item, err = txn.Get(b.dataKey(id))
		if err != nil {
			return err
		}

		payload, err = item.ValueCopy(nil)

		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("codestore: get %s: %w", id, err)
	}

	meta, err := decodeMeta(mb)
	if err != nil {
		return nil, err
	}

	return decodeRecord(meta, payload)
}

func (b *Badger) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(b.metaKey(id)); err != nil {
			return err
		}

		if err := txn.Delete(b.metaKey(id)); err != nil {
			return err
		}

		return txn.Delete(b.dataKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return fmt.Errorf("codestore: delete %s: %w", id, err)
	}

	return nil
}

func (b *Badger) List(ctx context.Context) ([]Meta, error) {
	prefix := []byte(b.prefix + "meta/")

	var out []Meta
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			m, err := decodeMeta(val)
			if err != nil {
				return err
			}

			out = append(out, m)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("codestore: list: %w", err)
	}

	sortMeta(out)

	return out, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func sortMeta(ms []Meta) {
	slices.SortStableFunc(ms, func(a, b Meta) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})
}

// slogLogger routes badger warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error("badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn("badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
