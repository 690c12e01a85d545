package codestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-xcodec/internal/codes"
)

const metaExt = ".meta"

// File keeps each sequence as <id>.xcd with a msgpack <id>.meta sidecar.
type File struct {
	dir string
}

func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("codestore: file store dir is required")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("codestore: create %s: %w", dir, err)
	}

	return &File{dir: dir}, nil
}

func (s *File) dataPath(id string) string { return filepath.Join(s.dir, id+codes.Ext) }
func (s *File) metaPath(id string) string { return filepath.Join(s.dir, id+metaExt) }

func (s *File) Put(_ context.Context, seq *codes.Sequence, meta Meta) (string, error) {
	meta, payload, err := prepare(seq, meta)
	if err != nil {
		return "", err
	}

	mb, err := encodeMeta(meta)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(s.dataPath(meta.ID), payload, 0o644); err != nil {
		return "", fmt.Errorf("codestore: put %s: %w", meta.ID, err)
	}

	// The sidecar is written last so List never sees a record without data.
	if err := os.WriteFile(s.metaPath(meta.ID), mb, 0o644); err != nil {
		_ = os.Remove(s.dataPath(meta.ID))
		return "", fmt.Errorf("codestore: put %s: %w", meta.ID, err)
	}

	return meta.ID, nil
}

func (s *File) Get(_ context.Context, id string) (*Record, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	mb, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		return nil, notFoundOr(id, err)
	}

	payload, err := os.ReadFile(s.dataPath(id))
	if err != nil {
		return nil, notFoundOr(id, err)
	}

	meta, err := decodeMeta(mb)
	if err != nil {
		return nil, err
	}

	return decodeRecord(meta, payload)
}

func (s *File) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}

	if err := os.Remove(s.metaPath(id)); err != nil {
		return notFoundOr(id, err)
	}

	if err := os.Remove(s.dataPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("codestore: delete %s: %w", id, err)
	}

	return nil
}

func (s *File) List(ctx context.Context) ([]Meta, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("codestore: list: %w", err)
	}

	var out []Meta
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if e.IsDir() || !strings.HasSuffix(e.Name(), metaExt) {
			continue
		}

		mb, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("codestore: list: %w", err)
		}

		m, err := decodeMeta(mb)
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	sortMeta(out)

	return out, nil
}

func (s *File) Close() error { return nil }

func notFoundOr(id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return fmt.Errorf("codestore: %s: %w", id, err)
}
