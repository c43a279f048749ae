package httpserver

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pvemon/gpumon-web/internal/snapshot"
	"github.com/pvemon/gpumon-web/internal/telemetry"
)

// snapshotProvider is the slice of the snapshot cache the collector needs.
type snapshotProvider interface {
	Current(ctx context.Context) snapshot.Snapshot
}

// snapshotCollector exposes the current snapshot as Prometheus metrics.
// Metric and label names follow the exporter format scrapers already
// depend on, so they stay flat rather than namespaced.
type snapshotCollector struct {
	provider snapshotProvider

	errorDesc *prometheus.Desc

	gpuGauges  []gpuGauge
	procGauges []procGauge

	containerGPUCount *prometheus.Desc
	snapshotTimestamp *prometheus.Desc
}

type gpuGauge struct {
	desc    *prometheus.Desc
	extract func(gpu telemetryGPU) (float64, bool)
}

type procGauge struct {
	desc    *prometheus.Desc
	extract func(proc snapshot.Process) (float64, bool)
}

// telemetryGPU is aliased locally to keep the gauge table readable.
type telemetryGPU = telemetry.GPU

func newSnapshotCollector(provider snapshotProvider) prometheus.Collector {
	if provider == nil {
		return nil
	}

	gpuDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, []string{"gpu"}, nil)
	}
	procDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(name, help, []string{"pid", "gpu", "container_id", "container_name"}, nil)
	}

	c := &snapshotCollector{
		provider: provider,
		errorDesc: prometheus.NewDesc(
			"gpu_monitor_error",
			"Error status of GPU monitor.",
			nil, nil,
		),
		containerGPUCount: prometheus.NewDesc(
			"container_gpu_count",
			"Number of GPUs used by a container.",
			[]string{"container_id", "container_name"},
			nil,
		),
		snapshotTimestamp: prometheus.NewDesc(
			"gpu_monitor_snapshot_timestamp_seconds",
			"Unix timestamp of the snapshot backing this scrape.",
			nil, nil,
		),
	}

	c.gpuGauges = []gpuGauge{
		{
			desc: gpuDesc("gpu_utilization", "GPU utilization percentage."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return gpu.UtilizationPct, true
			},
		},
		{
			desc: gpuDesc("gpu_memory_used", "GPU memory used in bytes."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return float64(gpu.MemoryUsedBytes), true
			},
		},
		{
			desc: gpuDesc("gpu_memory_total", "GPU total memory in bytes."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return float64(gpu.MemoryTotalBytes), true
			},
		},
		{
			desc: gpuDesc("gpu_temperature", "GPU temperature in Celsius."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return gpu.TemperatureC, true
			},
		},
		{
			desc: gpuDesc("gpu_power_usage", "GPU power usage in Watts."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return float64(gpu.PowerUsageMW) / 1000, true
			},
		},
		{
			desc: gpuDesc("gpu_power_limit", "GPU power limit in Watts."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return float64(gpu.PowerLimitMW) / 1000, true
			},
		},
		{
			desc: gpuDesc("gpu_graphics_clock", "GPU graphics clock in MHz."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.GraphicsClockMHz)
			},
		},
		{
			desc: gpuDesc("gpu_memory_clock", "GPU memory clock in MHz."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.MemoryClockMHz)
			},
		},
		{
			desc: gpuDesc("gpu_sm_clock", "GPU SM clock in MHz."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.SMClockMHz)
			},
		},
		{
			desc: gpuDesc("gpu_pcie_tx", "PCIe TX throughput in bytes per second."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.PCIeTxBps)
			},
		},
		{
			desc: gpuDesc("gpu_pcie_rx", "PCIe RX throughput in bytes per second."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.PCIeRxBps)
			},
		},
		{
			desc: gpuDesc("gpu_nvlink_tx", "NVLink TX throughput in bytes per second."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.NVLinkTxBps)
			},
		},
		{
			desc: gpuDesc("gpu_nvlink_rx", "NVLink RX throughput in bytes per second."),
			extract: func(gpu telemetryGPU) (float64, bool) {
				return deref(gpu.NVLinkRxBps)
			},
		},
	}

	c.procGauges = []procGauge{
		{
			desc: procDesc("gpu_process_memory", "GPU memory used by a process in bytes."),
			extract: func(proc snapshot.Process) (float64, bool) {
				return float64(proc.GPUMemoryBytes), true
			},
		},
		{
			desc: procDesc("process_cpu_percent", "CPU usage percentage by a process."),
			extract: func(proc snapshot.Process) (float64, bool) {
				return deref(proc.CPUPct)
			},
		},
		{
			desc: procDesc("process_host_memory", "Host memory used by a process in bytes."),
			extract: func(proc snapshot.Process) (float64, bool) {
				if proc.HostMemoryBytes == nil {
					return 0, false
				}
				return float64(*proc.HostMemoryBytes), true
			},
		},
		{
			desc: procDesc("process_running_time", "Process running time in seconds."),
			extract: func(proc snapshot.Process) (float64, bool) {
				return deref(proc.RunningTimeSec)
			},
		},
		{
			desc: procDesc("process_gpu_utilization", "GPU utilization percentage by a process."),
			extract: func(proc snapshot.Process) (float64, bool) {
				return deref(proc.GPUUtilizationPct)
			},
		},
	}

	return c
}

func deref(p *float64) (float64, bool) {
	if p == nil {
		return 0, false
	}
	return *p, true
}

func (c *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.errorDesc
	for _, gauge := range c.gpuGauges {
		ch <- gauge.desc
	}
	for _, gauge := range c.procGauges {
		ch <- gauge.desc
	}
	ch <- c.containerGPUCount
	ch <- c.snapshotTimestamp
}

func (c *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.provider.Current(context.Background())

	if snap.IsError() {
		ch <- prometheus.MustNewConstMetric(c.errorDesc, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.errorDesc, prometheus.GaugeValue, 0)

	if !snap.Timestamp.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.snapshotTimestamp, prometheus.GaugeValue, float64(snap.Timestamp.Unix()))
	}

	for _, gpu := range snap.GPUs {
		gpuLabel := strconv.Itoa(gpu.Index)
		for _, gauge := range c.gpuGauges {
			value, ok := gauge.extract(gpu)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(gauge.desc, prometheus.GaugeValue, value, gpuLabel)
		}
	}

	for _, proc := range snap.Processes {
		labels := []string{
			strconv.Itoa(proc.PID),
			strconv.Itoa(proc.GPUIndex),
			proc.ContainerIDOrHost(),
			proc.ContainerNameOrHost(),
		}
		for _, gauge := range c.procGauges {
			value, ok := gauge.extract(proc)
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(gauge.desc, prometheus.GaugeValue, value, labels...)
		}
	}

	for _, multi := range snap.MultiGPU {
		ch <- prometheus.MustNewConstMetric(
			c.containerGPUCount,
			prometheus.GaugeValue,
			float64(len(multi.GPUIndices)),
			multi.ContainerID,
			multi.ContainerName,
		)
	}
}
