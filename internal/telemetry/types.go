package telemetry

// GPU describes one device's state at capture time. Pointer fields are
// optional metrics whose availability depends on hardware and driver
// support; nil serializes as null and is distinct from a present zero.
type GPU struct {
	Index            int     `json:"index"`
	Name             string  `json:"name"`
	UUID             string  `json:"uuid"`
	PCIID            *string `json:"pci_id"`
	UtilizationPct   float64 `json:"utilization"`
	MemoryUsedBytes  uint64  `json:"memory_used"`
	MemoryTotalBytes uint64  `json:"memory_total"`
	MemoryPct        float64 `json:"memory_percent"`
	TemperatureC     float64 `json:"temperature"`
	PowerUsageMW     uint64  `json:"power_usage"`
	PowerLimitMW     uint64  `json:"power_limit"`

	GraphicsClockMHz    *float64 `json:"graphics_clock"`
	MemoryClockMHz      *float64 `json:"memory_clock"`
	SMClockMHz          *float64 `json:"sm_clock"`
	MaxGraphicsClockMHz *float64 `json:"max_graphics_clock"`
	MaxMemoryClockMHz   *float64 `json:"max_memory_clock"`
	MaxSMClockMHz       *float64 `json:"max_sm_clock"`
	PCIeTxBps           *float64 `json:"pcie_tx"`
	PCIeRxBps           *float64 `json:"pcie_rx"`
	NVLinkTxBps         *float64 `json:"nvlink_tx"`
	NVLinkRxBps         *float64 `json:"nvlink_rx"`
	EncoderUtilPct      *float64 `json:"encoder_utilization"`
	DecoderUtilPct      *float64 `json:"decoder_utilization"`
	ComputeMode         *string  `json:"compute_mode"`
	DriverVersion       *string  `json:"driver_version"`
}

// Process describes one GPU-consuming process at capture time.
type Process struct {
	PID            int     `json:"pid"`
	Command        string  `json:"command"`
	Username       string  `json:"username"`
	GPUIndex       int     `json:"gpu_index"`
	GPUMemoryBytes uint64  `json:"gpu_memory"`

	GPUUtilizationPct *float64 `json:"gpu_utilization"`
	CPUPct            *float64 `json:"cpu_percent"`
	HostMemoryBytes   *uint64  `json:"host_memory"`
	HostMemoryPct     *float64 `json:"host_memory_percent"`
	RunningTimeSec    *float64 `json:"running_time"`
	Status            *string  `json:"status"`
}

// Reading is one full capture from the telemetry source. Both sequences
// preserve source order.
type Reading struct {
	GPUs      []GPU     `json:"gpu_info"`
	Processes []Process `json:"processes"`
}
