// Package telemetry provides the GPU telemetry source boundary. The
// production implementation shells out to a Python interpreter carrying the
// nvitop library and parses the JSON payload the helper prints.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Source supplies full GPU and process captures on demand.
type Source interface {
	// Capture performs one synchronous read of all devices and
	// GPU-consuming processes.
	Capture(ctx context.Context) (Reading, error)
	// Check verifies that the source is operational. Intended for a
	// one-time probe during process bootstrap.
	Check(ctx context.Context) error
}

// runnerFunc executes a helper script and returns its stdout.
type runnerFunc func(ctx context.Context, pythonPath, script string) ([]byte, error)

// NvitopSource captures telemetry by running an embedded script with the
// Python interpreter of an nvitop virtual environment.
type NvitopSource struct {
	pythonPath string
	timeout    time.Duration
	logger     *slog.Logger
	run        runnerFunc
}

// NewNvitopSource constructs a source around the given interpreter path.
func NewNvitopSource(pythonPath string, timeout time.Duration, logger *slog.Logger) (*NvitopSource, error) {
	if pythonPath == "" {
		return nil, fmt.Errorf("python path must not be empty")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NvitopSource{
		pythonPath: pythonPath,
		timeout:    timeout,
		logger:     logger.With("component", "telemetry_source"),
		run:        runPython,
	}, nil
}

// Capture runs the capture helper once and parses its output.
func (s *NvitopSource) Capture(ctx context.Context) (Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.run(ctx, s.pythonPath, captureScript)
	if err != nil {
		return Reading{}, fmt.Errorf("run nvitop helper: %w", err)
	}

	var reading Reading
	if err := json.Unmarshal(out, &reading); err != nil {
		return Reading{}, fmt.Errorf("parse nvitop output: %w", err)
	}

	resolveNames(reading.GPUs)

	s.logger.Debug("telemetry captured",
		"gpus", len(reading.GPUs),
		"processes", len(reading.Processes),
		"duration", time.Since(start),
	)
	return reading, nil
}

// Check probes the helper environment with a trivial import.
func (s *NvitopSource) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.run(ctx, s.pythonPath, checkScript)
	if err != nil {
		return fmt.Errorf("probe nvitop helper: %w", err)
	}
	if !strings.Contains(string(out), "nvitop ok") {
		return fmt.Errorf("unexpected probe output %q", strings.TrimSpace(string(out)))
	}
	return nil
}

func runPython(ctx context.Context, pythonPath, script string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, pythonPath, "-c", script)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, firstLine(exitErr.Stderr))
		}
		return nil, err
	}
	return out, nil
}

func firstLine(data []byte) string {
	text := strings.TrimSpace(string(data))
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return text
}

const checkScript = `import nvitop; print("nvitop ok")`

// captureScript collects devices and GPU processes with nvitop and prints a
// single JSON document. Values that cannot be read (older hardware, missing
// driver support) are emitted as null rather than omitted or failing the
// whole capture.
const captureScript = `
import json
from nvitop import Device, take_snapshots


def num(value):
    if isinstance(value, (int, float)) and not isinstance(value, bool):
        return value
    return None


def tryget(fn):
    try:
        return fn()
    except Exception:
        return None


gpu_info = []
for device in Device.all():
    gpu = {
        'index': device.index,
        'name': device.name(),
        'uuid': device.uuid(),
        'utilization': num(device.gpu_utilization()) or 0,
        'memory_used': num(device.memory_used()) or 0,
        'memory_total': num(device.memory_total()) or 0,
        'memory_percent': num(device.memory_percent()) or 0,
        'temperature': num(device.temperature()) or 0,
        'power_usage': num(device.power_usage()) or 0,
        'power_limit': num(device.power_limit()) or 0,
        'graphics_clock': num(tryget(device.graphics_clock)),
        'memory_clock': num(tryget(device.memory_clock)),
        'sm_clock': num(tryget(device.sm_clock)),
        'max_graphics_clock': num(tryget(device.max_graphics_clock)),
        'max_memory_clock': num(tryget(device.max_memory_clock)),
        'max_sm_clock': num(tryget(device.max_sm_clock)),
        'pcie_tx': num(tryget(device.pcie_tx_throughput)),
        'pcie_rx': num(tryget(device.pcie_rx_throughput)),
        'nvlink_tx': num(tryget(getattr(device, 'nvlink_tx_throughput', None))),
        'nvlink_rx': num(tryget(getattr(device, 'nvlink_rx_throughput', None))),
        'encoder_utilization': num(tryget(getattr(device, 'encoder_utilization', None))),
        'decoder_utilization': num(tryget(getattr(device, 'decoder_utilization', None))),
        'compute_mode': tryget(device.compute_mode),
        'driver_version': tryget(device.driver_version),
        'pci_id': None,
    }
    try:
        import pynvml
        pci = pynvml.nvmlDeviceGetPciInfo(device.handle)
        gpu['pci_id'] = '%04x:%04x' % (pci.pciDeviceId & 0xFFFF, pci.pciDeviceId >> 16)
    except Exception:
        pass
    gpu_info.append(gpu)

processes = []
for process in take_snapshots().gpu_processes:
    processes.append({
        'pid': process.pid,
        'command': process.command,
        'username': process.username,
        'gpu_index': process.device.index,
        'gpu_memory': num(process.gpu_memory) or 0,
        'gpu_utilization': num(getattr(process, 'gpu_sm_utilization', None)),
        'cpu_percent': num(getattr(process, 'cpu_percent', None)),
        'host_memory': num(getattr(process, 'host_memory', None)),
        'host_memory_percent': num(getattr(process, 'host_memory_percent', None)),
        'running_time': num(getattr(process, 'running_time_in_seconds', None)),
        'status': getattr(process, 'status', None),
    })

print(json.dumps({'gpu_info': gpu_info, 'processes': processes}))
`
