package main

import (
	"fmt"
	"os"

	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

// readStream reads the codes of one .atbc file.
func readStream(path string) ([]dist.Code, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	codes, err := dist.ReadCodes(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return codes, nil
}

// loadStreams installs each code stream into p as one batch. The returned
// map takes code ids to installed segment ids; a later stream's id wins.
func loadStreams(p *vm.Program, paths []string) (map[uint64]vm.SegmentID, error) {
	entries := make(map[uint64]vm.SegmentID)
	known := func(id vm.SegmentID) bool {
		_, err := p.Segment(id)
		return err == nil
	}
	for _, path := range paths {
		codes, err := readStream(path)
		if err != nil {
			return nil, err
		}
		assigned, err := dist.Install(p, codes, known)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		for wire, id := range assigned {
			entries[wire] = id
		}
		log.Infof("loaded %d codes from %s", len(codes), path)
	}
	return entries, nil
}
