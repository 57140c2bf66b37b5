package models

// SystemResources is the host capability probe result.
type SystemResources struct {
	CPUCount        int     `json:"cpu_count"`
	TotalMemoryGB   float64 `json:"total_memory_gb"`
	FreeDiskSpaceGB float64 `json:"free_disk_space_gb"`
	OSInfo          string  `json:"os_info"`
	HasGPU          bool    `json:"has_gpu"`
	IsCompatible    bool    `json:"is_compatible"`
}
