package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func testTable() *Table {
	return NewTable([]Mapping{
		{Prefix: "/readonly", Dir: "/lib/firmware", ReadOnly: true},
		{Prefix: "/readwrite", Dir: "/var/lib/files"},
		{Prefix: "/", Dir: "/srv/fallback"},
	})
}

func TestResolveLongestPrefixWins(t *testing.T) {
	tab := testTable()

	local, err := tab.Resolve("/readonly/modem/fw.bin", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if local != filepath.Join("/lib/firmware", "modem", "fw.bin") {
		t.Fatalf("unexpected path: %q", local)
	}

	local, err = tab.Resolve("/other/file", false)
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if local != filepath.Join("/srv/fallback", "other", "file") {
		t.Fatalf("unexpected fallback path: %q", local)
	}
}

func TestResolveTreatsRelativeAsRooted(t *testing.T) {
	tab := testTable()
	local, err := tab.Resolve("readonly/fw.bin", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if local != filepath.Join("/lib/firmware", "fw.bin") {
		t.Fatalf("unexpected path: %q", local)
	}
}

func TestResolveRejectsWriteToReadOnlyMapping(t *testing.T) {
	tab := testTable()
	if _, err := tab.Resolve("/readonly/fw.bin", true); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if _, err := tab.Resolve("/readwrite/out.bin", true); err != nil {
		t.Fatalf("writable mapping rejected: %v", err)
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	tab := testTable()
	if _, err := tab.Resolve("/../etc/passwd", false); !errors.Is(err, ErrBadPath) {
		t.Fatalf("expected ErrBadPath, got %v", err)
	}
	// Dot segments that stay inside the mapping are fine after cleaning.
	local, err := tab.Resolve("/readonly/a/../fw.bin", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if local != filepath.Join("/lib/firmware", "fw.bin") {
		t.Fatalf("unexpected path: %q", local)
	}
}

func TestResolveUnmappedPath(t *testing.T) {
	tab := NewTable([]Mapping{{Prefix: "/only", Dir: "/srv/only"}})
	if _, err := tab.Resolve("/elsewhere/file", false); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("expected ErrNotMapped, got %v", err)
	}
}

func TestResolveExactPrefixMatch(t *testing.T) {
	tab := testTable()
	local, err := tab.Resolve("/readwrite", true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if local != "/var/lib/files" {
		t.Fatalf("unexpected path: %q", local)
	}
}
