// Package manifest handles atlas.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/chazu/atlas/host"
	"github.com/chazu/atlas/vm"
)

// FileName is the manifest file looked for by FindAndLoad.
const FileName = "atlas.toml"

// Manifest represents an atlas.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Code    CodeConfig   `toml:"code"`
	VM      VMConfig     `toml:"vm"`
	Host    HostConfig   `toml:"host"`
	Store   StoreConfig  `toml:"store"`
	Server  ServerConfig `toml:"server"`
	Log     LogConfig    `toml:"log"`

	// Dir is the directory containing the atlas.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// CodeConfig lists compiled code streams to load at startup.
type CodeConfig struct {
	Paths []string `toml:"paths"`
	Entry uint64   `toml:"entry"`
}

// VMConfig tunes the virtual machine.
type VMConfig struct {
	MaxDepth int `toml:"max-depth"`
}

// HostConfig selects which host capabilities code may call. An empty
// allow list allows everything not denied.
type HostConfig struct {
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
}

// StoreConfig configures the persistent code cache. An empty path disables it.
type StoreConfig struct {
	Path string `toml:"path"`
}

// ServerConfig configures the execution host.
type ServerConfig struct {
	Addr          string   `toml:"addr"`
	InvokeTimeout Duration `toml:"invoke-timeout"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Duration is a time.Duration written as a string such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no atlas.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.VM.MaxDepth <= 0 {
		m.VM.MaxDepth = vm.DefaultMaxDepth
	}
	if m.Server.Addr == "" {
		m.Server.Addr = "localhost:7600"
	}
	if m.Server.InvokeTimeout.Duration <= 0 {
		m.Server.InvokeTimeout.Duration = 30 * time.Second
	}
}

// Load parses an atlas.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find an atlas.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CodePaths returns absolute paths for the configured code streams.
func (m *Manifest) CodePaths() []string {
	var paths []string
	for _, p := range m.Code.Paths {
		paths = append(paths, m.resolve(p))
	}
	return paths
}

// StorePath returns the absolute path of the code cache, or "" when the
// cache is disabled.
func (m *Manifest) StorePath() string {
	if m.Store.Path == "" {
		return ""
	}
	return m.resolve(m.Store.Path)
}

// LogFile returns the log file path for commonlog.Configure; nil logs to
// stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.resolve(m.Log.File)
	return &path
}

// Policy builds the host capability policy.
func (m *Manifest) Policy() *host.Policy {
	p := host.NewPermissivePolicy()
	if len(m.Host.Allow) > 0 {
		p = host.NewRestrictedPolicy(m.Host.Allow)
	}
	for _, c := range m.Host.Deny {
		p.Deny(c)
	}
	return p
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
