package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chazu/atlas/manifest"
	"github.com/chazu/atlas/vm"
)

func buildProgram(t *testing.T) (*vm.Program, vm.SegmentID) {
	t.Helper()
	p := vm.NewProgram()
	leaf := vm.NewSegmentBuilder()
	leaf.Store(0, vm.PrimInt(41))
	leaf.Return(0)
	ls, err := leaf.Build()
	if err != nil {
		t.Fatal(err)
	}
	leafID, err := p.Add(ls)
	if err != nil {
		t.Fatal(err)
	}

	b := vm.NewSegmentBuilder()
	b.Store(0, vm.PrimTarget(b.AddTarget(leafID)))
	b.Invoke(1, 0)
	b.Store(2, vm.PrimInt(1))
	b.Add(3, 1, 2)
	b.Return(3)
	seg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	root, err := p.Add(seg)
	if err != nil {
		t.Fatal(err)
	}
	return p, root
}

func TestDumpAndLoadStreams(t *testing.T) {
	p, root := buildProgram(t)
	path := filepath.Join(t.TempDir(), "main.atbc")
	if err := dump(p, path); err != nil {
		t.Fatalf("dump: %v", err)
	}

	q := vm.NewProgram()
	q.Reserve(5)
	entries, err := loadStreams(q, []string{path})
	if err != nil {
		t.Fatalf("loadStreams: %v", err)
	}
	id, ok := entries[uint64(root)]
	if !ok {
		t.Fatalf("root %d missing from %v", root, entries)
	}
	got, err := vm.New(q).Run(context.Background(), id)
	if err != nil || got != vm.Int(42) {
		t.Errorf("Run(loaded root) = %v, %v", got, err)
	}

	if _, err := loadStreams(q, []string{filepath.Join(t.TempDir(), "missing.atbc")}); err == nil {
		t.Error("missing stream accepted")
	}
}

func TestEntryID(t *testing.T) {
	m := manifest.Default(t.TempDir())
	entries := map[uint64]vm.SegmentID{0: 10, 3: 12}

	tests := []struct {
		name    string
		entries map[uint64]vm.SegmentID
		config  uint64
		flag    int64
		want    vm.SegmentID
		ok      bool
	}{
		{"manifest default", entries, 0, -1, 10, true},
		{"manifest entry", entries, 3, -1, 12, true},
		{"flag wins", entries, 3, 0, 10, true},
		{"unknown code", entries, 7, -1, 0, false},
		{"no streams, no entry", nil, 0, -1, 0, false},
		{"no streams, flag", nil, 0, 4, 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.Code.Entry = tt.config
			got, ok := entryID(m, tt.entries, tt.flag)
			if got != tt.want || ok != tt.ok {
				t.Errorf("entryID = %d, %v, want %d, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
