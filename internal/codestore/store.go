// Package codestore persists code sequences under generated IDs.
//
// Three backends share one interface: an embedded badger database, a plain
// directory of container files, and an S3-compatible bucket.
package codestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/go-xcodec/internal/codes"
	"github.com/example/go-xcodec/internal/config"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned for IDs the store does not hold.
	ErrNotFound = errors.New("codestore: not found")
	// ErrInvalidID is returned for IDs that are not UUID strings.
	ErrInvalidID = errors.New("codestore: invalid id")
)

// Meta describes a stored sequence. ID, CreatedAt and the shape fields are
// filled in by Put; Name and Labels come from the caller.
type Meta struct {
	ID         string            `msgpack:"id" json:"id"`
	Name       string            `msgpack:"name,omitempty" json:"name,omitempty"`
	Labels     map[string]string `msgpack:"labels,omitempty" json:"labels,omitempty"`
	CreatedAt  time.Time         `msgpack:"created_at" json:"created_at"`
	Batch      int               `msgpack:"batch" json:"batch"`
	Frames     int               `msgpack:"frames" json:"frames"`
	K          int               `msgpack:"k" json:"k"`
	SampleRate int               `msgpack:"sample_rate" json:"sample_rate"`
	Bytes      int               `msgpack:"bytes" json:"bytes"`
}

// Record is a stored sequence with its metadata.
type Record struct {
	Meta  Meta
	Codes *codes.Sequence
}

type Store interface {
	Put(ctx context.Context, seq *codes.Sequence, meta Meta) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	// List returns metadata for every stored sequence, oldest first.
	List(ctx context.Context) ([]Meta, error)
	Close() error
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBadger, "":
		return NewBadger(BadgerOptions{Dir: cfg.Dir, Prefix: cfg.Prefix})
	case config.StoreFile:
		return NewFile(cfg.Dir)
	case config.StoreS3:
		return NewS3FromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("codestore: unknown backend %q", cfg.Backend)
	}
}

// prepare validates seq, encodes it and completes meta with a fresh ID.
func prepare(seq *codes.Sequence, meta Meta) (Meta, []byte, error) {
	payload, err := codes.Marshal(seq)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("codestore: put: %w", err)
	}

	meta.ID = uuid.NewString()
	meta.CreatedAt = time.Now().UTC()
	meta.Batch = seq.Batch
	meta.Frames = seq.Frames
	meta.K = seq.K
	meta.SampleRate = seq.SampleRate
	meta.Bytes = len(payload)

	return meta, payload, nil
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}

	return nil
}

func encodeMeta(m Meta) ([]byte, error) {
	b, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("codestore: encode meta %s: %w", m.ID, err)
	}

	return b, nil
}

func decodeMeta(b []byte) (Meta, error) {
	var m Meta
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Meta{}, fmt.Errorf("codestore: decode meta: %w", err)
	}

	return m, nil
}

func decodeRecord(meta Meta, payload []byte) (*Record, error) {
	seq, err := codes.Unmarshal(payload)
	if err != nil {
		return nil, fmt.Errorf("codestore: get %s: %w", meta.ID, err)
	}

	return &Record{Meta: meta, Codes: seq}, nil
}
