// Package snapshot implements the sampling-attribution-aggregation
// pipeline: it turns raw telemetry readings and container attributions
// into immutable, cache-coherent snapshots.
package snapshot

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/pvemon/gpumon-web/internal/container"
	"github.com/pvemon/gpumon-web/internal/telemetry"
)

// Resolver maps a PID to the container that owns it. The second return
// value is false for host processes and processes that no longer exist.
type Resolver interface {
	Resolve(ctx context.Context, pid int) (container.Attribution, bool)
}

// Builder assembles one Snapshot per refresh cycle.
type Builder struct {
	source   telemetry.Source
	resolver Resolver
	logger   *slog.Logger
}

// NewBuilder wires a Builder from its collaborators.
func NewBuilder(source telemetry.Source, resolver Resolver, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{
		source:   source,
		resolver: resolver,
		logger:   logger.With("component", "snapshot_builder"),
	}
}

// Build performs one refresh cycle: capture telemetry, attribute every
// process, derive aggregates. A failed capture yields an error Snapshot;
// Build never returns an error past this boundary.
func (b *Builder) Build(ctx context.Context, now time.Time) Snapshot {
	reading, err := b.source.Capture(ctx)
	if err != nil {
		b.logger.Warn("telemetry capture failed", "err", err)
		return Snapshot{Timestamp: now, Err: err.Error()}
	}

	processes := make([]Process, 0, len(reading.Processes))
	for _, raw := range reading.Processes {
		proc := Process{Process: raw}
		if attr, ok := b.resolver.Resolve(ctx, raw.PID); ok {
			id := attr.ID
			name := attr.Name
			proc.ContainerID = &id
			proc.ContainerName = &name
		}
		processes = append(processes, proc)
	}

	gpus := reading.GPUs
	if gpus == nil {
		gpus = []telemetry.GPU{}
	}

	snap := Snapshot{
		Timestamp: now,
		GPUs:      gpus,
		Processes: processes,
		Rollups:   buildRollups(processes),
		MultiGPU:  buildMultiGPU(processes),
	}

	b.logger.Info("snapshot built",
		"gpus", len(snap.GPUs),
		"processes", len(snap.Processes),
		"multi_gpu_containers", len(snap.MultiGPU),
	)
	return snap
}

// buildMultiGPU groups attributed processes by container and keeps the
// containers touching two or more distinct GPUs. Grouping is independent
// of input order; the index slices are sorted.
func buildMultiGPU(processes []Process) map[string]MultiGPUContainer {
	indices := make(map[string]map[int]struct{})
	names := make(map[string]string)

	for _, proc := range processes {
		if !proc.Attributed() {
			continue
		}
		id := *proc.ContainerID
		if _, ok := indices[id]; !ok {
			indices[id] = make(map[int]struct{})
			names[id] = *proc.ContainerName
		}
		indices[id][proc.GPUIndex] = struct{}{}
	}

	result := make(map[string]MultiGPUContainer)
	for id, set := range indices {
		if len(set) < 2 {
			continue
		}
		sorted := make([]int, 0, len(set))
		for index := range set {
			sorted = append(sorted, index)
		}
		sort.Ints(sorted)
		result[id] = MultiGPUContainer{
			ContainerID:   id,
			ContainerName: names[id],
			GPUIndices:    sorted,
		}
	}
	return result
}

// buildRollups groups processes by (container-or-host, GPU) and
// accumulates count, memory, and utilization sums. A process without a
// per-process utilization value contributes 0 to the sum.
func buildRollups(processes []Process) map[string]Rollup {
	result := make(map[string]Rollup)

	for _, proc := range processes {
		id := HostContainerID
		name := HostContainerName
		if proc.Attributed() {
			id = *proc.ContainerID
			name = *proc.ContainerName
		}

		key := RollupKey(id, proc.GPUIndex)
		rollup, ok := result[key]
		if !ok {
			rollup = Rollup{
				ContainerID:   id,
				ContainerName: name,
				GPUIndex:      proc.GPUIndex,
			}
		}

		rollup.ProcessCount++
		rollup.TotalGPUMemoryBytes += proc.GPUMemoryBytes
		if proc.GPUUtilizationPct != nil {
			rollup.GPUUtilizationPct += *proc.GPUUtilizationPct
		}
		result[key] = rollup
	}

	return result
}
