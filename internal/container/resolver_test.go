package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pvemon/gpumon-web/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeCgroup(t *testing.T, procRoot string, pid int, content string) {
	t.Helper()
	writeFile(t, filepath.Join(procRoot, strconv.Itoa(pid), "cgroup"), content)
}

func newTestResolver(t *testing.T, cfg config.ContainerConfig) *Resolver {
	t.Helper()
	resolver, err := NewResolver(cfg, nil)
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}
	t.Cleanup(func() {
		if err := resolver.Close(); err != nil {
			t.Errorf("resolver close: %v", err)
		}
	})
	return resolver
}

func TestResolveHostProcess(t *testing.T) {
	procRoot := t.TempDir()
	writeCgroup(t, procRoot, 100, "0::/system.slice/sshd.service\n")

	resolver := newTestResolver(t, config.ContainerConfig{ProcRoot: procRoot})

	if _, ok := resolver.Resolve(context.Background(), 100); ok {
		t.Fatal("expected host process to have no attribution")
	}
}

func TestResolveExitedProcess(t *testing.T) {
	resolver := newTestResolver(t, config.ContainerConfig{ProcRoot: t.TempDir()})

	if _, ok := resolver.Resolve(context.Background(), 424242); ok {
		t.Fatal("expected missing pid to have no attribution")
	}
}

func TestResolveNameFromConfHostname(t *testing.T) {
	procRoot := t.TempDir()
	confDir := t.TempDir()
	writeCgroup(t, procRoot, 200, "0::/lxc/105/ns/payload\n")
	writeFile(t, filepath.Join(confDir, "105.conf"),
		"arch: amd64\ncores: 8\nhostname: ml-worker\nmemory: 32768\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:   procRoot,
		PVEConfDir: confDir,
	})

	attr, ok := resolver.Resolve(context.Background(), 200)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.ID != "105" {
		t.Fatalf("unexpected container id %q", attr.ID)
	}
	if attr.Name != "ml-worker" {
		t.Fatalf("unexpected container name %q", attr.Name)
	}
}

func TestResolveNameFallsBackToPctList(t *testing.T) {
	procRoot := t.TempDir()
	writeCgroup(t, procRoot, 200, "0::/lxc/105\n")

	// pctListName stats the binary path before invoking it.
	pctPath := filepath.Join(t.TempDir(), "pct")
	writeFile(t, pctPath, "#!/bin/sh\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:    procRoot,
		PVEConfDir:  filepath.Join(t.TempDir(), "missing"),
		PCTPath:     pctPath,
		ToolTimeout: time.Second,
	})
	resolver.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != pctPath {
			t.Fatalf("unexpected command %q", name)
		}
		out := "VMID       Status     Lock         Name\n" +
			"101        stopped                 backup-box\n" +
			"105        running                 training-job\n"
		return []byte(out), nil
	}

	attr, ok := resolver.Resolve(context.Background(), 200)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.Name != "training-job" {
		t.Fatalf("unexpected container name %q", attr.Name)
	}
}

func TestResolveNameFallsBackToServiceUnit(t *testing.T) {
	procRoot := t.TempDir()
	writeCgroup(t, procRoot, 300,
		"0::/system.slice/pve-container@105.service\n1:name=systemd:/lxc/105/ns\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:   procRoot,
		PVEConfDir: filepath.Join(t.TempDir(), "missing"),
	})
	resolver.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("pct unavailable")
	}

	attr, ok := resolver.Resolve(context.Background(), 300)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.Name != "pve-container@105" {
		t.Fatalf("unexpected container name %q", attr.Name)
	}
}

func TestResolveNameUnknownFallback(t *testing.T) {
	procRoot := t.TempDir()
	writeCgroup(t, procRoot, 400, "0::/lxc/207/ns\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:   procRoot,
		PVEConfDir: filepath.Join(t.TempDir(), "missing"),
	})

	attr, ok := resolver.Resolve(context.Background(), 400)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.ID != "207" {
		t.Fatalf("unexpected container id %q", attr.ID)
	}
	if attr.Name != UnknownName {
		t.Fatalf("expected %q, got %q", UnknownName, attr.Name)
	}
}

func TestResolveIgnoresMalformedCgroupLines(t *testing.T) {
	procRoot := t.TempDir()
	confDir := t.TempDir()
	writeCgroup(t, procRoot, 500,
		"garbage line without colons\n2:freezer:/lxc-not-a-container\n0::/lxc/300/init.scope\n")
	writeFile(t, filepath.Join(confDir, "300.conf"), "hostname: db-replica\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:   procRoot,
		PVEConfDir: confDir,
	})

	attr, ok := resolver.Resolve(context.Background(), 500)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.ID != "300" || attr.Name != "db-replica" {
		t.Fatalf("unexpected attribution %+v", attr)
	}
}

func TestConfHostnameSkipsBlankValue(t *testing.T) {
	procRoot := t.TempDir()
	confDir := t.TempDir()
	writeCgroup(t, procRoot, 600, "0::/lxc/108\n")
	writeFile(t, filepath.Join(confDir, "108.conf"), "hostname:\ncores: 2\n")

	resolver := newTestResolver(t, config.ContainerConfig{
		ProcRoot:   procRoot,
		PVEConfDir: confDir,
	})

	attr, ok := resolver.Resolve(context.Background(), 600)
	if !ok {
		t.Fatal("expected attribution")
	}
	if attr.Name != UnknownName {
		t.Fatalf("expected fallback name, got %q", attr.Name)
	}
}
