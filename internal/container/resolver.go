// Package container attributes host processes to the LXC container that
// owns them, using kernel cgroup membership and Proxmox host metadata.
package container

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pvemon/gpumon-web/internal/config"
)

// Attribution identifies the container owning a process. Name is best
// effort and falls back to "Unknown" when no lookup succeeds.
type Attribution struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnknownName is the terminal fallback for container name resolution.
const UnknownName = "Unknown"

var (
	lxcPattern     = regexp.MustCompile(`(?m)/lxc/(\d+)(?:/|$)`)
	servicePattern = regexp.MustCompile(`system\.slice/([^/]+)\.service`)
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Resolver maps PIDs to container attributions. All lookups are read-only
// and individually fault-tolerant; Resolve never returns an error.
type Resolver struct {
	procRoot    *os.Root
	confDir     string
	pctPath     string
	toolTimeout time.Duration
	logger      *slog.Logger
	runCommand  commandRunner
}

// NewResolver constructs a Resolver rooted at the configured proc path.
func NewResolver(cfg config.ContainerConfig, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	procRoot := cfg.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 3 * time.Second
	}

	root, err := os.OpenRoot(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc root: %w", err)
	}

	return &Resolver{
		procRoot:    root,
		confDir:     cfg.PVEConfDir,
		pctPath:     cfg.PCTPath,
		toolTimeout: toolTimeout,
		logger:      logger.With("component", "container_resolver"),
		runCommand:  runTool,
	}, nil
}

// Resolve returns the attribution for pid, or false when the process runs
// on the bare host, has already exited, or uses an unsupported isolation
// scheme. Those are normal outcomes, not errors.
func (r *Resolver) Resolve(ctx context.Context, pid int) (Attribution, bool) {
	data, err := r.procRoot.ReadFile(filepath.Join(strconv.Itoa(pid), "cgroup"))
	if err != nil {
		return Attribution{}, false
	}

	content := string(data)
	match := lxcPattern.FindStringSubmatch(content)
	if match == nil {
		return Attribution{}, false
	}
	id := match[1]

	var service string
	if sm := servicePattern.FindStringSubmatch(content); sm != nil {
		service = sm[1]
	}

	return Attribution{ID: id, Name: r.resolveName(ctx, id, service)}, true
}

// Close releases the proc root handle.
func (r *Resolver) Close() error {
	if r.procRoot == nil {
		return nil
	}
	return r.procRoot.Close()
}

type nameStrategy struct {
	name   string
	lookup func(ctx context.Context, id string) (string, bool)
}

// resolveName tries each naming strategy in priority order. A failing
// strategy falls through to the next; the terminal fallback is "Unknown".
func (r *Resolver) resolveName(ctx context.Context, id, service string) string {
	strategies := []nameStrategy{
		{name: "pve_conf_hostname", lookup: r.confHostname},
		{name: "pct_list", lookup: r.pctListName},
		{name: "service_unit", lookup: func(context.Context, string) (string, bool) {
			return service, service != ""
		}},
	}

	for _, strategy := range strategies {
		name, ok := strategy.lookup(ctx, id)
		if ok && name != "" && name != UnknownName {
			return name
		}
		r.logger.Debug("name strategy exhausted", "strategy", strategy.name, "container_id", id)
	}
	return UnknownName
}

// confHostname reads the hostname entry from the per-container Proxmox
// configuration file.
func (r *Resolver) confHostname(_ context.Context, id string) (string, bool) {
	if r.confDir == "" {
		return "", false
	}
	file, err := os.Open(filepath.Join(r.confDir, id+".conf"))
	if err != nil {
		return "", false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "hostname:") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "hostname:"))
		if name != "" {
			return name, true
		}
	}
	return "", false
}

// pctListName queries the host's pct tool for the container's name column.
func (r *Resolver) pctListName(ctx context.Context, id string) (string, bool) {
	if r.pctPath == "" {
		return "", false
	}
	if _, err := os.Stat(r.pctPath); err != nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	out, err := r.runCommand(ctx, r.pctPath, "list")
	if err != nil {
		r.logger.Debug("pct list failed", "err", err)
		return "", false
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != id {
			continue
		}
		return fields[2], true
	}
	return "", false
}

func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
