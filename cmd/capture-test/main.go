package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pvemon/gpumon-web/internal/config"
	"github.com/pvemon/gpumon-web/internal/container"
	"github.com/pvemon/gpumon-web/internal/snapshot"
	"github.com/pvemon/gpumon-web/internal/telemetry"
)

type options struct {
	python     string
	timeout    time.Duration
	attribute  bool
	jsonOutput bool
}

func parseFlags() options {
	defaultPython := envOrDefault("APP_NVITOP_PYTHON", "/opt/nvitop-venv/bin/python")

	var opts options
	flag.StringVar(&opts.python, "python", defaultPython, "Python interpreter with nvitop installed")
	flag.DurationVar(&opts.timeout, "timeout", 15*time.Second, "Capture timeout")
	flag.BoolVar(&opts.attribute, "attribute", false, "Resolve container attribution for captured processes")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit the full snapshot as JSON")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := context.Background()

	source, err := telemetry.NewNvitopSource(opts.python, opts.timeout, logger.With("component", "telemetry"))
	if err != nil {
		logger.Error("telemetry source init failed", "err", err)
		os.Exit(1)
	}

	if err := source.Check(ctx); err != nil {
		logger.Error("telemetry self-check failed", "err", err)
		os.Exit(1)
	}

	if !opts.attribute {
		reading, err := source.Capture(ctx)
		if err != nil {
			logger.Error("capture failed", "err", err)
			os.Exit(1)
		}
		printReading(logger, reading, opts.jsonOutput)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	resolver, err := container.NewResolver(cfg.Container, logger.With("component", "container"))
	if err != nil {
		logger.Error("container resolver init failed", "err", err)
		os.Exit(1)
	}
	defer resolver.Close()

	builder := snapshot.NewBuilder(source, resolver, logger.With("component", "snapshot"))
	snap := builder.Build(ctx, time.Now())
	if snap.IsError() {
		logger.Error("snapshot build failed", "err", snap.Err)
		os.Exit(1)
	}

	if opts.jsonOutput {
		encodeJSON(logger, snap)
		return
	}

	fmt.Printf("Snapshot at %s\n", snap.Timestamp.UTC().Format(time.RFC3339))
	fmt.Printf("GPUs: %d, processes: %d\n\n", len(snap.GPUs), len(snap.Processes))
	for _, proc := range snap.Processes {
		fmt.Printf("- pid %d (%s) on GPU %d -> %s (%s)\n",
			proc.PID, proc.Command, proc.GPUIndex,
			proc.ContainerIDOrHost(), proc.ContainerNameOrHost())
	}
	if len(snap.MultiGPU) > 0 {
		fmt.Println()
		fmt.Println("Containers using multiple GPUs:")
		for _, multi := range snap.MultiGPU {
			fmt.Printf("- %s (%s): GPUs %v\n", multi.ContainerID, multi.ContainerName, multi.GPUIndices)
		}
	}
}

func printReading(logger *slog.Logger, reading telemetry.Reading, jsonOutput bool) {
	if jsonOutput {
		encodeJSON(logger, reading)
		return
	}

	if len(reading.GPUs) == 0 {
		fmt.Println("No GPUs detected")
	} else {
		fmt.Println("Detected GPUs:")
	}
	for _, gpu := range reading.GPUs {
		fmt.Printf("- #%d %s: %.0f%% util, %d/%d MiB\n",
			gpu.Index, gpu.Name, gpu.UtilizationPct,
			gpu.MemoryUsedBytes/(1024*1024), gpu.MemoryTotalBytes/(1024*1024))
	}

	fmt.Printf("\nGPU processes: %d\n", len(reading.Processes))
	for _, proc := range reading.Processes {
		fmt.Printf("- pid %d (%s) on GPU %d, %d MiB\n",
			proc.PID, proc.Command, proc.GPUIndex, proc.GPUMemoryBytes/(1024*1024))
	}
}

func encodeJSON(logger *slog.Logger, payload any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		logger.Error("encode output", "err", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
