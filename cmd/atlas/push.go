package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chazu/atlas/manifest"
	"github.com/chazu/atlas/server"
	"github.com/chazu/atlas/vm/dist"
)

// push registers code streams with a remote execution service and invokes
// the entry code there.
func push(ctx context.Context, m *manifest.Manifest, url string, paths []string, flagEntry int64) error {
	var codes []dist.Code
	for _, path := range append(m.CodePaths(), paths...) {
		c, err := readStream(path)
		if err != nil {
			return err
		}
		codes = append(codes, c...)
	}
	if len(codes) == 0 {
		return fmt.Errorf("nothing to push")
	}

	client := server.NewClient(http.DefaultClient, url)
	assigned, err := client.Register(ctx, codes)
	if errors.Is(err, server.ErrNotPersisted) {
		log.Warningf("%s", err)
	} else if err != nil {
		return err
	}
	fmt.Printf("registered %d codes with %s\n", len(assigned), url)

	entry := m.Code.Entry
	if flagEntry >= 0 {
		entry = uint64(flagEntry)
	}
	id, ok := assigned[entry]
	if !ok {
		return fmt.Errorf("entry code %d is not in the pushed streams", entry)
	}
	resp, err := client.Invoke(ctx, "", id)
	if err != nil {
		return err
	}
	v, err := resp.Value()
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}
