// Package config handles magma.toml runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Environment variables that override [paths] values. They exist for
// operator convenience; the values are resolved once at startup and
// threaded through explicitly from there.
const (
	EnvLibraryPath    = "MAGMA_LIB_PATH"
	EnvDebuggerBinary = "MAGMA_DEBUGGER"
)

// Config represents a magma.toml runtime configuration.
type Config struct {
	Machine MachineConfig `toml:"machine"`
	Debug   DebugConfig   `toml:"debug"`
	Paths   PathsConfig   `toml:"paths"`

	// Dir is the directory containing the magma.toml file (set at load time).
	Dir string `toml:"-"`
}

// MachineConfig sizes the machine's memory regions and picks the heap
// strategy.
type MachineConfig struct {
	StackSize uint64 `toml:"stack-size"`
	HeapSize  uint64 `toml:"heap-size"`
	Allocator string `toml:"allocator"` // "buddy" or "fixed"
	DiskImage string `toml:"disk-image"`
}

// DebugConfig configures the shared debug segment.
type DebugConfig struct {
	Enabled bool   `toml:"enabled"`
	Segment string `toml:"segment"`
}

// PathsConfig locates external collaborators: includable assembly
// library sources and the debugger executable to launch.
type PathsConfig struct {
	LibraryPath    string `toml:"library-path"`
	DebuggerBinary string `toml:"debugger-binary"`
}

// Default returns the configuration used when no magma.toml exists.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			StackSize: 4096,
			HeapSize:  65536,
			Allocator: "buddy",
		},
		Debug: DebugConfig{
			Segment: "debug",
		},
	}
}

// Load parses a magma.toml file from the given directory, filling in
// defaults for anything the file leaves unset.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, "magma.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	return c, nil
}

// FindAndLoad walks up from startDir to find a magma.toml file, then
// loads and returns the configuration. Returns Default() if no file is
// found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "magma.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return Default(), nil
		}
		dir = parent
	}
}

// ApplyEnv overrides path values from the environment. Called once at
// startup; nothing else reads these variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLibraryPath); v != "" {
		c.Paths.LibraryPath = v
	}
	if v := os.Getenv(EnvDebuggerBinary); v != "" {
		c.Paths.DebuggerBinary = v
	}
}

// DiskImagePath returns the disk image path resolved against the config
// directory, or empty when no disk is configured.
func (c *Config) DiskImagePath() string {
	if c.Machine.DiskImage == "" {
		return ""
	}
	if filepath.IsAbs(c.Machine.DiskImage) || c.Dir == "" {
		return c.Machine.DiskImage
	}
	return filepath.Join(c.Dir, c.Machine.DiskImage)
}
