package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pvemon/gpumon-web/internal/telemetry"
)

// Attribution key and display name used for processes that run on the bare
// host rather than inside a container.
const (
	HostContainerID   = "Host"
	HostContainerName = "Host System"
)

// Process is a telemetry process reading annotated with container
// ownership. ContainerID and ContainerName are either both nil (host
// process) or both set.
type Process struct {
	telemetry.Process
	ContainerID   *string `json:"container_id"`
	ContainerName *string `json:"container_name"`
}

// Attributed reports whether the process was attributed to a container.
func (p Process) Attributed() bool {
	return p.ContainerID != nil
}

// ContainerIDOrHost returns the owning container ID, or the host
// placeholder for unattributed processes.
func (p Process) ContainerIDOrHost() string {
	if p.ContainerID == nil {
		return HostContainerID
	}
	return *p.ContainerID
}

// ContainerNameOrHost returns the owning container name, or the host
// placeholder for unattributed processes.
func (p Process) ContainerNameOrHost() string {
	if p.ContainerName == nil {
		return HostContainerName
	}
	return *p.ContainerName
}

// Rollup aggregates the processes sharing a (container, GPU) key within
// one snapshot. Recomputed from scratch every cycle.
type Rollup struct {
	ContainerID         string `json:"container_id"`
	ContainerName       string `json:"container_name"`
	GPUIndex            int    `json:"gpu_index"`
	ProcessCount        int    `json:"process_count"`
	TotalGPUMemoryBytes uint64 `json:"total_memory"`
	// GPUUtilizationPct is the sum of the member processes' individual
	// utilization percentages. It is an approximation, not a combined
	// utilization metric, and can exceed 100.
	GPUUtilizationPct float64 `json:"gpu_utilization"`
}

// RollupKey derives the map key for a (container, GPU) pair.
func RollupKey(containerID string, gpuIndex int) string {
	return fmt.Sprintf("%s_%d", containerID, gpuIndex)
}

// MultiGPUContainer records a container whose processes touch two or more
// distinct GPUs within the same snapshot.
type MultiGPUContainer struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"name"`
	GPUIndices    []int  `json:"gpu_indices"`
}

// Snapshot is one immutable, internally consistent capture of GPU and
// process state plus derived aggregates. A snapshot is either fully
// populated or a minimal error value; Err set means all other collections
// are empty.
type Snapshot struct {
	Timestamp time.Time                    `json:"-"`
	GPUs      []telemetry.GPU              `json:"gpu_info,omitzero"`
	Processes []Process                    `json:"processes,omitzero"`
	Rollups   map[string]Rollup            `json:"container_processes,omitzero"`
	MultiGPU  map[string]MultiGPUContainer `json:"multi_gpu_containers,omitzero"`
	Err       string                       `json:"error,omitempty"`
}

// IsError reports whether the snapshot records a failed capture.
func (s Snapshot) IsError() bool {
	return s.Err != ""
}

// MarshalJSON serializes the timestamp as Unix seconds, matching the shape
// consumed by the dashboard and JSON API.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	return json.Marshal(struct {
		TimestampUnix int64 `json:"timestamp"`
		alias
	}{
		TimestampUnix: s.Timestamp.Unix(),
		alias:         alias(s),
	})
}
