// Package storage reads and writes schema snapshot files so that a database
// can be compared against a previously captured state.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/tordrt/syncforge/internal/schema"
)

// FormatVersion is written into every snapshot file
const FormatVersion = 1

// ErrUnsupportedVersion is returned for files written by a newer format
var ErrUnsupportedVersion = errors.New("unsupported snapshot file version")

var xzMagic = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}

// envelope is the on-disk layout of a snapshot file
type envelope struct {
	Version  int              `json:"version"`
	Snapshot *schema.Snapshot `json:"snapshot"`
}

// Compressed reports whether a path names an xz-compressed snapshot
func Compressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xz")
}

// Save writes a snapshot to path, compressing it when the name ends in .xz.
// The file is written to a temporary name first and renamed into place.
func Save(path string, snap *schema.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := Encode(tmp, snap, Compressed(path)); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// Encode writes a snapshot as indented JSON, optionally xz-compressed
func Encode(w io.Writer, snap *schema.Snapshot, compress bool) error {
	var xw *xz.Writer
	if compress {
		var err error
		xw, err = xz.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create xz writer: %w", err)
		}
		w = xw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope{Version: FormatVersion, Snapshot: snap}); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if xw != nil {
		if err := xw.Close(); err != nil {
			return fmt.Errorf("failed to finish xz stream: %w", err)
		}
	}
	return nil
}

// Load reads a snapshot file written by Save
func Load(path string) (*schema.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	snap, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// Decode reads a snapshot, detecting xz compression from the magic bytes
func Decode(r io.Reader) (*schema.Snapshot, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(xzMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var in io.Reader = br
	if bytes.Equal(magic, xzMagic) {
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		in = xr
	}

	var env envelope
	if err := json.NewDecoder(in).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if env.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	if env.Snapshot == nil {
		return nil, fmt.Errorf("file holds no snapshot")
	}
	if env.Snapshot.Tables == nil {
		env.Snapshot.Tables = make(map[string]*schema.Table)
	}
	if err := env.Snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}
	return env.Snapshot, nil
}
