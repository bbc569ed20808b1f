package rpc

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is the handshake/system-info payload recovered from the
// original service's handle_hello/handle_get_system_info, which was
// richer than the bare hostname+resolution spec.md's abstract hello
// names.
type SystemInfo struct {
	OS         string
	DiskFreeGB float64
	GPUs       []string
	CPUPercent float64
	MemPercent float64
}

func gatherSystemInfo() SystemInfo {
	info := SystemInfo{OS: runtime.GOOS, GPUs: []string{}}

	if usage, err := disk.Usage("/"); err == nil {
		info.DiskFreeGB = float64(usage.Free) / (1 << 30)
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemPercent = vm.UsedPercent
	}
	info.GPUs = gatherGPUs()

	return info
}

// gatherGPUs shells out to nvidia-smi the way the original service
// did, best-effort: absence of the binary or a non-NVIDIA host yields
// an empty list rather than an error.
func gatherGPUs() []string {
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.used,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return []string{}
	}

	var gpus []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			continue
		}
		name := strings.TrimSpace(fields[0])
		used, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
		total, _ := strconv.Atoi(strings.TrimSpace(fields[2]))
		gpus = append(gpus, name+" ("+strconv.Itoa(used)+"/"+strconv.Itoa(total)+" MiB)")
	}
	if gpus == nil {
		gpus = []string{}
	}
	return gpus
}
