package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleCapture = `{
  "gpu_info": [
    {
      "index": 0,
      "name": "NVIDIA RTX A5000",
      "uuid": "GPU-aaaa",
      "pci_id": "10de:2231",
      "utilization": 43.5,
      "memory_used": 8589934592,
      "memory_total": 25769803776,
      "memory_percent": 33.3,
      "temperature": 61,
      "power_usage": 155000,
      "power_limit": 230000,
      "graphics_clock": 1695,
      "memory_clock": null,
      "sm_clock": 1695,
      "pcie_tx": 120000,
      "pcie_rx": null,
      "compute_mode": "Default",
      "driver_version": "550.54.14"
    }
  ],
  "processes": [
    {
      "pid": 4242,
      "command": "python train.py",
      "username": "ml",
      "gpu_index": 0,
      "gpu_memory": 4294967296,
      "gpu_utilization": 40.0,
      "cpu_percent": 210.5,
      "host_memory": 2147483648,
      "host_memory_percent": null,
      "running_time": 3600.5,
      "status": "running"
    }
  ]
}`

func newTestSource(t *testing.T, run runnerFunc) *NvitopSource {
	t.Helper()
	source, err := NewNvitopSource("/usr/bin/python3", time.Second, nil)
	if err != nil {
		t.Fatalf("NewNvitopSource error: %v", err)
	}
	source.run = run
	return source
}

func TestNewNvitopSourceValidation(t *testing.T) {
	if _, err := NewNvitopSource("", time.Second, nil); err == nil {
		t.Fatal("expected error for empty python path")
	}
	if _, err := NewNvitopSource("/usr/bin/python3", 0, nil); err == nil {
		t.Fatal("expected error for non-positive timeout")
	}
}

func TestCaptureParsesReading(t *testing.T) {
	source := newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		return []byte(sampleCapture), nil
	})

	reading, err := source.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}

	if len(reading.GPUs) != 1 {
		t.Fatalf("expected 1 gpu, got %d", len(reading.GPUs))
	}
	gpu := reading.GPUs[0]
	if gpu.Index != 0 || gpu.UUID != "GPU-aaaa" {
		t.Fatalf("unexpected gpu identity: %+v", gpu)
	}
	if gpu.UtilizationPct != 43.5 {
		t.Fatalf("unexpected utilization %v", gpu.UtilizationPct)
	}
	if gpu.MemoryUsedBytes != 8589934592 {
		t.Fatalf("unexpected memory used %d", gpu.MemoryUsedBytes)
	}
	if gpu.GraphicsClockMHz == nil || *gpu.GraphicsClockMHz != 1695 {
		t.Fatalf("expected graphics clock 1695, got %v", gpu.GraphicsClockMHz)
	}
	if gpu.MemoryClockMHz != nil {
		t.Fatalf("expected nil memory clock, got %v", *gpu.MemoryClockMHz)
	}
	if gpu.PCIeRxBps != nil {
		t.Fatalf("expected nil pcie rx, got %v", *gpu.PCIeRxBps)
	}

	if len(reading.Processes) != 1 {
		t.Fatalf("expected 1 process, got %d", len(reading.Processes))
	}
	proc := reading.Processes[0]
	if proc.PID != 4242 || proc.GPUIndex != 0 {
		t.Fatalf("unexpected process identity: %+v", proc)
	}
	if proc.CPUPct == nil || *proc.CPUPct != 210.5 {
		t.Fatalf("unexpected cpu percent %v", proc.CPUPct)
	}
	if proc.HostMemoryPct != nil {
		t.Fatalf("expected nil host memory percent")
	}
	if proc.Status == nil || *proc.Status != "running" {
		t.Fatalf("unexpected status %v", proc.Status)
	}
}

func TestCaptureMalformedOutput(t *testing.T) {
	source := newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		return []byte("Traceback (most recent call last):"), nil
	})

	if _, err := source.Capture(context.Background()); err == nil {
		t.Fatal("expected parse error")
	} else if !strings.Contains(err.Error(), "parse nvitop output") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCaptureRunnerFailure(t *testing.T) {
	wantErr := errors.New("interpreter not found")
	source := newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		return nil, wantErr
	})

	_, err := source.Capture(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped runner error, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	source := newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		return []byte("nvitop ok\n"), nil
	})
	if err := source.Check(context.Background()); err != nil {
		t.Fatalf("Check error: %v", err)
	}

	source = newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		return []byte("ModuleNotFoundError"), nil
	})
	if err := source.Check(context.Background()); err == nil {
		t.Fatal("expected probe failure")
	}
}

func TestCaptureHonorsTimeout(t *testing.T) {
	source := newTestSource(t, func(ctx context.Context, pythonPath, script string) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := source.Capture(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("capture did not respect timeout, took %s", elapsed)
	}
}
