// Atlas CLI - loads compiled code streams and runs, serves, or inspects them
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/manifest"
	"github.com/chazu/atlas/repl"
	"github.com/chazu/atlas/server"
	"github.com/chazu/atlas/store"
	"github.com/chazu/atlas/vm"
	"github.com/chazu/atlas/vm/dist"
)

var log = commonlog.GetLogger("atlas.cmd")

// options are the parsed command-line flags.
type options struct {
	dir         string
	verbosity   int
	disasm      bool
	run         bool
	entry       int64
	serve       bool
	addr        string
	interactive bool
	dump        string
	save        bool
}

func main() {
	var o options
	flag.StringVar(&o.dir, "C", ".", "Directory to search for atlas.toml")
	flag.IntVar(&o.verbosity, "v", -1, "Log verbosity (overrides [log] verbosity)")
	flag.BoolVar(&o.disasm, "disasm", false, "Print every loaded segment")
	flag.BoolVar(&o.run, "run", false, "Run the entry segment and print its value")
	flag.Int64Var(&o.entry, "entry", -1, "Entry code id (overrides [code] entry)")
	flag.BoolVar(&o.serve, "serve", false, "Start the execution service")
	flag.StringVar(&o.addr, "addr", "", "Execution service address (overrides [server] addr)")
	flag.BoolVar(&o.interactive, "i", false, "Start the interactive command loop")
	flag.StringVar(&o.dump, "dump", "", "Write the loaded program as a code stream to this file")
	flag.BoolVar(&o.save, "save", false, "Save the loaded program to the code store")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: atlas [options] [streams...]\n")
		fmt.Fprintf(os.Stderr, "       atlas push <url> [streams...]\n\n")
		fmt.Fprintf(os.Stderr, "Loads .atbc code streams listed in atlas.toml and on the command line.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  atlas -run main.atbc            # Run the entry code of main.atbc\n")
		fmt.Fprintf(os.Stderr, "  atlas -disasm main.atbc         # Show the loaded segments\n")
		fmt.Fprintf(os.Stderr, "  atlas -serve -addr :7600        # Serve the execution service\n")
		fmt.Fprintf(os.Stderr, "  atlas push http://host:7600 a.atbc  # Register and run on a remote host\n")
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, o, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, args []string) error {
	m, err := manifest.FindAndLoad(o.dir)
	if err != nil {
		return err
	}
	if m == nil {
		dir, err := filepath.Abs(o.dir)
		if err != nil {
			return err
		}
		m = manifest.Default(dir)
	}
	verbosity := m.Log.Verbosity
	if o.verbosity >= 0 {
		verbosity = o.verbosity
	}
	commonlog.Configure(verbosity, m.LogFile())
	if m.Project.Name != "" {
		log.Infof("project %s %s", m.Project.Name, m.Project.Version)
	}

	if len(args) > 0 && args[0] == "push" {
		if len(args) < 2 {
			return fmt.Errorf("usage: atlas push <url> [streams...]")
		}
		return push(ctx, m, args[1], args[2:], o.entry)
	}

	var st *store.Store
	if path := m.StorePath(); path != "" {
		if st, err = store.Open(path); err != nil {
			return err
		}
		defer st.Close()
	}

	p := vm.NewProgram()
	if st != nil {
		if p, err = st.LoadProgram(ctx); err != nil {
			return err
		}
		log.Infof("loaded %d segments from %s", p.Len(), st.Path())
	}
	entries, err := loadStreams(p, append(m.CodePaths(), args...))
	if err != nil {
		return err
	}
	entry, hasEntry := entryID(m, entries, o.entry)

	if o.save {
		if st == nil {
			return fmt.Errorf("-save needs a [store] path in %s", manifest.FileName)
		}
		if err := st.SaveProgram(ctx, p); err != nil {
			return err
		}
	}
	if o.dump != "" {
		if err := dump(p, o.dump); err != nil {
			return err
		}
	}
	if o.disasm {
		disassemble(p)
	}

	table := host.NewDefaultTable(host.WithPolicy(m.Policy()))
	machine := vm.New(p, vm.WithHost(table), vm.WithMaxDepth(m.VM.MaxDepth))

	if o.run {
		if !hasEntry {
			return fmt.Errorf("no entry code: set [code] entry or pass -entry")
		}
		v, err := machine.Run(ctx, entry)
		if err == nil {
			v, err = machine.Resolve(ctx, v)
		}
		if err != nil {
			return err
		}
		fmt.Println(v)
	}

	if o.serve {
		addr := m.Server.Addr
		if o.addr != "" {
			addr = o.addr
		}
		opts := []server.Option{
			server.WithPolicy(m.Policy()),
			server.WithCapabilities(table.Names()),
			server.WithInvokeTimeout(m.Server.InvokeTimeout.Duration),
		}
		if st != nil {
			opts = append(opts, server.WithStore(st))
		}
		srv := server.New(machine, opts...)
		defer srv.Stop()
		return srv.ListenAndServe(ctx, addr)
	}

	if o.interactive {
		s := repl.NewSession(p, repl.WithVMOptions(vm.WithHost(table), vm.WithMaxDepth(m.VM.MaxDepth)),
			repl.WithCommandParser(repl.TypedArgs))
		for _, name := range table.Names() {
			if err := s.DefineHost(name, name); err != nil {
				return err
			}
		}
		if hasEntry {
			if err := s.Define("main", entry); err != nil {
				return err
			}
		}
		home, _ := os.UserHomeDir()
		history := ""
		if home != "" {
			history = filepath.Join(home, ".atlas_history")
		}
		return repl.Run(ctx, s, history)
	}
	return nil
}

// entryID picks the entry segment from the -entry flag or the manifest.
// The id names a code in the loaded streams; without streams it is a
// segment id of the stored program.
func entryID(m *manifest.Manifest, entries map[uint64]vm.SegmentID, flagEntry int64) (vm.SegmentID, bool) {
	wire := m.Code.Entry
	if flagEntry >= 0 {
		wire = uint64(flagEntry)
	}
	if len(entries) == 0 {
		return vm.SegmentID(wire), flagEntry >= 0 || m.Code.Entry != 0
	}
	id, ok := entries[wire]
	return id, ok
}

func disassemble(p *vm.Program) {
	for _, id := range p.IDs() {
		seg, err := p.Segment(id)
		if err != nil {
			continue
		}
		fmt.Printf("segment %d (hash %016x)\n", id, seg.Hash())
		fmt.Print(vm.Disassemble(seg))
	}
}

func dump(p *vm.Program, path string) error {
	var codes []dist.Code
	for _, id := range p.IDs() {
		seg, err := p.Segment(id)
		if err != nil {
			return err
		}
		codes = append(codes, dist.CodeFromSegment(id, seg))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dist.WriteCodes(f, codes); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
