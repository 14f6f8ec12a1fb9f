// Package storage is the filesystem façade behind the protocol engine:
// request paths go through a translation table, and read-side opens fall
// back to a zstd-compressed sibling that is decompressed transparently.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// ReadHandle is a byte-addressable view of one readable blob. ReadAt at or
// past the end returns 0 bytes with io.EOF, never an error state of its own.
type ReadHandle interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Config selects the mappings and features of a Store.
type Config struct {
	Mappings []Mapping
	// DisableZstd turns off the compressed-sibling fallback on reads.
	DisableZstd bool
}

// Store opens files on behalf of transfer sessions.
type Store struct {
	table *Table
	zstd  bool
	log   zerolog.Logger
}

// NewStore builds a Store. An empty mapping list maps everything under the
// current directory, which is only sensible for tests.
func NewStore(cfg Config, log zerolog.Logger) *Store {
	mappings := cfg.Mappings
	if len(mappings) == 0 {
		mappings = []Mapping{{Prefix: "/", Dir: "."}}
	}
	return &Store{
		table: NewTable(mappings),
		zstd:  !cfg.DisableZstd,
		log:   log,
	}
}

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// OpenRead resolves name and opens it for reading. With zstd enabled,
// compressed content is decompressed into memory and served from there, so
// callers see plain bytes either way. Two compressed shapes are recognized:
// a literal file that starts with the zstd magic, and a "<name>.zst" sibling
// standing in for an absent literal file.
func (s *Store) OpenRead(name string) (ReadHandle, error) {
	local, err := s.table.Resolve(name, false)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || !s.zstd {
			return nil, err
		}
		f, err = os.Open(local + ".zst")
		if err != nil {
			return nil, err
		}
		return s.decompress(f, local+".zst")
	}
	if s.zstd && hasZstdMagic(f) {
		return s.decompress(f, local)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", local, err)
	}
	return &fileHandle{File: f, size: info.Size()}, nil
}

func hasZstdMagic(f *os.File) bool {
	var head [4]byte
	n, err := f.ReadAt(head[:], 0)
	return err == nil && n == len(head) && bytes.Equal(head[:], zstdMagic)
}

// decompress inflates a whole zstd stream into memory and takes ownership of
// the file handle.
func (s *Store) decompress(f *os.File, local string) (ReadHandle, error) {
	defer func() { _ = f.Close() }()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("storage: zstd open %s: %w", local, err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("storage: zstd decode %s: %w", local, err)
	}
	s.log.Debug().Str("path", local).Int("bytes", len(data)).Msg("decompressed blob")
	return &memHandle{Reader: bytes.NewReader(data)}, nil
}

// OpenWrite resolves name and opens it for writing, creating or truncating
// the target.
func (s *Store) OpenWrite(name string) (io.WriteCloser, error) {
	local, err := s.table.Resolve(name, true)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

type fileHandle struct {
	*os.File
	size int64
}

func (h *fileHandle) Size() int64 { return h.size }

type memHandle struct {
	*bytes.Reader
}

func (h *memHandle) Size() int64 { return h.Reader.Size() }

func (h *memHandle) Close() error { return nil }
