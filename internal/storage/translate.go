package storage

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Mapping routes one request-path prefix to a directory on disk.
type Mapping struct {
	Prefix   string
	Dir      string
	ReadOnly bool
}

var (
	ErrNotMapped = errors.New("storage: path outside the translation table")
	ErrReadOnly  = errors.New("storage: write to read-only mapping")
	ErrBadPath   = errors.New("storage: path escapes its mapping")
)

// Table translates peer-supplied paths into local filesystem paths.
// Longest configured prefix wins.
type Table struct {
	mappings []Mapping
}

// NewTable builds a translation table. Prefixes are normalized to a leading
// slash and ordered longest-first so the most specific mapping matches.
func NewTable(mappings []Mapping) *Table {
	ms := make([]Mapping, 0, len(mappings))
	for _, m := range mappings {
		m.Prefix = "/" + strings.Trim(m.Prefix, "/")
		ms = append(ms, m)
	}
	sort.SliceStable(ms, func(i, j int) bool {
		return len(ms[i].Prefix) > len(ms[j].Prefix)
	})
	return &Table{mappings: ms}
}

// Resolve maps a requested path to a local one. Relative requests are
// treated as rooted. Paths that traverse out of their mapping are rejected.
func (t *Table) Resolve(name string, write bool) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(name, "/"))
	if strings.HasPrefix(clean, "/..") {
		return "", fmt.Errorf("%w: %q", ErrBadPath, name)
	}
	for _, m := range t.mappings {
		rel, ok := matchPrefix(clean, m.Prefix)
		if !ok {
			continue
		}
		if write && m.ReadOnly {
			return "", fmt.Errorf("%w: %q", ErrReadOnly, name)
		}
		return filepath.Join(m.Dir, filepath.FromSlash(rel)), nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotMapped, name)
}

func matchPrefix(clean, prefix string) (string, bool) {
	if prefix == "/" {
		return strings.TrimPrefix(clean, "/"), true
	}
	if clean == prefix {
		return "", true
	}
	if strings.HasPrefix(clean, prefix+"/") {
		return clean[len(prefix)+1:], true
	}
	return "", false
}
