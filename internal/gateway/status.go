package gateway

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ProcessStatus is the payload pushed on ChannelStatus.
type ProcessStatus struct {
	CPULoad1    float64        `json:"cpu_load_1"`
	CPUPercent  float64        `json:"cpu_percent"`
	CPUCores    int            `json:"cpu_cores"`
	MemUsedMB   float64        `json:"mem_used_mb"`
	MemTotalMB  float64        `json:"mem_total_mb"`
	HeapAllocMB float64        `json:"heap_alloc_mb"`
	GCRuns      uint32         `json:"gc_runs"`
	Goroutines  int            `json:"goroutines"`
	UptimeSec   int64          `json:"uptime_sec"`
	WSClients   int            `json:"ws_clients"`
	PushLatency LatencySummary `json:"push_latency"`
	TS          string         `json:"ts"`
}

type cpuSample struct {
	idle  uint64
	total uint64
}

var (
	cpuMu   sync.Mutex
	prevCPU cpuSample
)

// CollectStatus gathers process and host resource usage. Host figures are
// read from /proc and stay zero where it is unavailable.
func CollectStatus(start time.Time) ProcessStatus {
	st := ProcessStatus{
		CPUCores:   runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  int64(time.Since(start).Seconds()),
		TS:         time.Now().UTC().Format(time.RFC3339Nano),
	}

	cur := readCPUSample()
	cpuMu.Lock()
	if prevCPU.total > 0 && cur.total > prevCPU.total {
		dTotal := float64(cur.total - prevCPU.total)
		dIdle := float64(cur.idle - prevCPU.idle)
		st.CPUPercent = (1.0 - dIdle/dTotal) * 100.0
	}
	prevCPU = cur
	cpuMu.Unlock()

	if fields := firstLineFields("/proc/loadavg"); len(fields) > 0 {
		st.CPULoad1, _ = strconv.ParseFloat(fields[0], 64)
	}

	total, available := readMemInfo()
	if total > 0 {
		st.MemTotalMB = float64(total) / 1024
		st.MemUsedMB = float64(total-available) / 1024
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st.HeapAllocMB = float64(ms.HeapAlloc) / 1024 / 1024
	st.GCRuns = ms.NumGC
	return st
}

func readCPUSample() cpuSample {
	fields := firstLineFields("/proc/stat")
	if len(fields) < 5 || fields[0] != "cpu" {
		return cpuSample{}
	}
	var s cpuSample
	for i := 1; i < len(fields); i++ {
		v, _ := strconv.ParseUint(fields[i], 10, 64)
		s.total += v
		if i == 4 {
			s.idle = v
		}
	}
	return s
}

func firstLineFields(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil
	}
	return strings.Fields(scanner.Text())
}

// readMemInfo returns MemTotal and MemAvailable in kB.
func readMemInfo() (total, available uint64) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return total, available
}
