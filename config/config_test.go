package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "magma.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDefault(t *testing.T) {
	c := Default()
	if c.Machine.StackSize != 4096 {
		t.Errorf("default stack size = %d", c.Machine.StackSize)
	}
	if c.Machine.HeapSize != 65536 {
		t.Errorf("default heap size = %d", c.Machine.HeapSize)
	}
	if c.Machine.Allocator != "buddy" {
		t.Errorf("default allocator = %q", c.Machine.Allocator)
	}
	if c.Debug.Segment != "debug" {
		t.Errorf("default segment = %q", c.Debug.Segment)
	}
	if c.Debug.Enabled {
		t.Error("debugging enabled by default")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[machine]
stack-size = 8192
allocator = "fixed"
disk-image = "disk.db"

[debug]
enabled = true
segment = "mysession"

[paths]
library-path = "/opt/magma/lib"
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if c.Machine.StackSize != 8192 {
		t.Errorf("stack size = %d, want 8192", c.Machine.StackSize)
	}
	// heap-size left unset: the default must survive the merge.
	if c.Machine.HeapSize != 65536 {
		t.Errorf("heap size = %d, want default 65536", c.Machine.HeapSize)
	}
	if c.Machine.Allocator != "fixed" {
		t.Errorf("allocator = %q, want fixed", c.Machine.Allocator)
	}
	if !c.Debug.Enabled || c.Debug.Segment != "mysession" {
		t.Errorf("debug config = %+v", c.Debug)
	}
	if c.Paths.LibraryPath != "/opt/magma/lib" {
		t.Errorf("library path = %q", c.Paths.LibraryPath)
	}
	if c.Dir == "" || !filepath.IsAbs(c.Dir) {
		t.Errorf("config dir = %q, want absolute", c.Dir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("loading a directory with no magma.toml succeeded")
	}
}

func TestLoadMalformed(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[machine\nstack-size =")
	if _, err := Load(dir); err == nil {
		t.Error("loading a malformed file succeeded")
	}
}

func TestFindAndLoadWalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[machine]\nstack-size = 1024\n")

	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c.Machine.StackSize != 1024 {
		t.Errorf("stack size = %d, want 1024 from the ancestor config", c.Machine.StackSize)
	}
}

func TestFindAndLoadFallsBackToDefault(t *testing.T) {
	// A temp dir under /tmp has no magma.toml anywhere above it in CI.
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Machine.StackSize != 4096 {
		t.Errorf("fallback stack size = %d, want default", c.Machine.StackSize)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/env/lib")
	t.Setenv(EnvDebuggerBinary, "/env/bin/magma-dbg")

	c := Default()
	c.Paths.LibraryPath = "/from/file"
	c.ApplyEnv()

	if c.Paths.LibraryPath != "/env/lib" {
		t.Errorf("library path = %q, want the environment override", c.Paths.LibraryPath)
	}
	if c.Paths.DebuggerBinary != "/env/bin/magma-dbg" {
		t.Errorf("debugger binary = %q", c.Paths.DebuggerBinary)
	}
}

func TestApplyEnvEmptyKeepsFileValue(t *testing.T) {
	t.Setenv(EnvLibraryPath, "")
	c := Default()
	c.Paths.LibraryPath = "/from/file"
	c.ApplyEnv()
	if c.Paths.LibraryPath != "/from/file" {
		t.Errorf("library path = %q, want the file value", c.Paths.LibraryPath)
	}
}

func TestDiskImagePath(t *testing.T) {
	c := Default()
	if got := c.DiskImagePath(); got != "" {
		t.Errorf("no disk configured but path = %q", got)
	}

	c.Machine.DiskImage = "/abs/disk.db"
	c.Dir = "/etc/magma"
	if got := c.DiskImagePath(); got != "/abs/disk.db" {
		t.Errorf("absolute image resolved to %q", got)
	}

	c.Machine.DiskImage = "disk.db"
	if got := c.DiskImagePath(); got != filepath.Join("/etc/magma", "disk.db") {
		t.Errorf("relative image resolved to %q", got)
	}
}
