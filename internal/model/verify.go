package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileCheck is the outcome of checking one bundle file.
type FileCheck struct {
	File   string
	SHA256 string
	Err    error
}

// VerifyFiles checks that every referenced file exists and, when the
// manifest pins a checksum, that its SHA-256 matches. Pinned files that the
// manifest does not otherwise reference are checked too.
func VerifyFiles(dir string, m Manifest) []FileCheck {
	seen := make(map[string]bool)
	names := make([]string, 0, len(m.Checksums)+4)

	for _, f := range m.Files() {
		if !seen[f] {
			seen[f] = true
			names = append(names, f)
		}
	}

	pinned := make([]string, 0, len(m.Checksums))
	for f := range m.Checksums {
		if !seen[f] {
			pinned = append(pinned, f)
		}
	}

	sort.Strings(pinned)
	names = append(names, pinned...)

	out := make([]FileCheck, 0, len(names))
	for _, f := range names {
		out = append(out, verifyFile(filepath.Join(dir, filepath.FromSlash(f)), f, strings.ToLower(m.Checksums[f])))
	}

	return out
}

func verifyFile(path, name, expected string) FileCheck {
	fi, err := os.Stat(path)
	if err != nil {
		return FileCheck{File: name, Err: err}
	}

	if fi.IsDir() {
		return FileCheck{File: name, Err: fmt.Errorf("expected file at %s, found directory", path)}
	}

	if expected == "" {
		return FileCheck{File: name}
	}

	actual, err := fileSHA256(path)
	if err != nil {
		return FileCheck{File: name, Err: err}
	}

	if actual != expected {
		return FileCheck{File: name, SHA256: actual, Err: fmt.Errorf("checksum mismatch: expected %s got %s", expected, actual)}
	}

	return FileCheck{File: name, SHA256: actual}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
