package util

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the capture host.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	LocalIP      string `json:"local_ip"`
}

// GetSystemInfo gathers host information. Fields that cannot be read are
// left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}
	info.LocalIP = LocalIP()
	return info
}

// LocalIP returns the first non-loopback IPv4 address, the one a mirror
// port usually targets.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
			return ipNet.IP.String()
		}
	}
	return "127.0.0.1"
}

// Usage is a point-in-time resource reading of the host and this process.
type Usage struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemAvailableMB uint64  `json:"mem_available_mb"`
	DiskFreeMB     uint64  `json:"disk_free_mb"`
	ProcessRSSMB   uint64  `json:"process_rss_mb"`
	Goroutines     int     `json:"goroutines"`
}

// GetUsage reads host CPU and memory, the free space under dir (where
// packet logs are written) and the resident size of this process.
func GetUsage(dir string) (Usage, error) {
	u := Usage{Goroutines: runtime.NumGoroutine()}

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return u, fmt.Errorf("cpu: %w", err)
	}
	if len(percentages) > 0 {
		u.CPUPercent = percentages[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return u, fmt.Errorf("memory: %w", err)
	}
	u.MemUsedPercent = memInfo.UsedPercent
	u.MemAvailableMB = memInfo.Available / (1024 * 1024)

	if dir != "" {
		if d, err := disk.Usage(dir); err == nil {
			u.DiskFreeMB = d.Free / (1024 * 1024)
		}
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			u.ProcessRSSMB = mi.RSS / (1024 * 1024)
		}
	}
	return u, nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
