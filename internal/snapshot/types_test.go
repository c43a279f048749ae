package snapshot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pvemon/gpumon-web/internal/telemetry"
)

func TestSnapshotJSONShape(t *testing.T) {
	id := "105"
	name := "training-job"
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := Snapshot{
		Timestamp: ts,
		GPUs:      []telemetry.GPU{{Index: 0, Name: "GPU0"}},
		Processes: []Process{
			{
				Process:       telemetry.Process{PID: 100, GPUIndex: 0},
				ContainerID:   &id,
				ContainerName: &name,
			},
			{
				Process: telemetry.Process{PID: 300, GPUIndex: 0},
			},
		},
		Rollups:  map[string]Rollup{},
		MultiGPU: map[string]MultiGPUContainer{},
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}

	if got := decoded["timestamp"]; got != float64(ts.Unix()) {
		t.Fatalf("timestamp should be unix seconds, got %v", got)
	}
	if _, ok := decoded["error"]; ok {
		t.Fatal("successful snapshot must not carry an error key")
	}
	for _, key := range []string{"gpu_info", "processes", "container_processes", "multi_gpu_containers"} {
		if _, ok := decoded[key]; !ok {
			t.Fatalf("successful snapshot missing %q", key)
		}
	}

	processes := decoded["processes"].([]any)
	attributed := processes[0].(map[string]any)
	if attributed["container_id"] != "105" || attributed["container_name"] != "training-job" {
		t.Fatalf("unexpected attributed process: %v", attributed)
	}
	host := processes[1].(map[string]any)
	if host["container_id"] != nil || host["container_name"] != nil {
		t.Fatalf("host process attribution must encode as null: %v", host)
	}
}

func TestErrorSnapshotJSONShape(t *testing.T) {
	snap := Snapshot{
		Timestamp: time.Unix(1700000000, 0),
		Err:       "capture failed",
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}

	if decoded["error"] != "capture failed" {
		t.Fatalf("missing error field: %v", decoded)
	}
	if decoded["timestamp"] != float64(1700000000) {
		t.Fatalf("error snapshot must keep its timestamp, got %v", decoded["timestamp"])
	}
	for _, key := range []string{"gpu_info", "processes", "container_processes", "multi_gpu_containers"} {
		if _, ok := decoded[key]; ok {
			t.Fatalf("error snapshot must omit %q", key)
		}
	}
}

func TestRollupKey(t *testing.T) {
	if got := RollupKey("105", 3); got != "105_3" {
		t.Fatalf("unexpected rollup key %q", got)
	}
	if got := RollupKey(HostContainerID, 0); got != "Host_0" {
		t.Fatalf("unexpected host rollup key %q", got)
	}
}
