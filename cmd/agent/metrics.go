package main

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// MetricsCollector samples the local system and keeps the counter state
// needed to derive network speeds between samples. Ping probes run on
// their own loop so a slow target never delays a metrics tick.
type MetricsCollector struct {
	mu                sync.Mutex
	lastNetworkRx     uint64
	lastNetworkTx     uint64
	lastNetworkTime   time.Time
	pingResults       *PingMetrics
	pingResultsMu     sync.RWMutex
	customPingTargets []PingTargetConfig
	customTargetsMu   sync.RWMutex
	gatewayIP         string
	ipAddresses       []string
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		lastNetworkTime: time.Now(),
		pingResults:     &PingMetrics{Targets: []PingTarget{}},
	}

	// Seed the counters so the first sample reports speed 0 instead of
	// the machine's lifetime totals.
	netIO, _ := net.IOCounters(true)
	for _, io := range netIO {
		if isVirtualInterface(io.Name) {
			continue
		}
		mc.lastNetworkRx += io.BytesRecv
		mc.lastNetworkTx += io.BytesSent
	}

	mc.gatewayIP = detectGateway()
	mc.ipAddresses = collectIPAddresses()

	go mc.pingLoop()

	return mc
}

// SetPingTargets replaces the probe list pushed by the dashboard. A nil
// or empty list falls back to the built-in defaults.
func (mc *MetricsCollector) SetPingTargets(targets []PingTargetConfig) {
	mc.customTargetsMu.Lock()
	defer mc.customTargetsMu.Unlock()
	mc.customPingTargets = targets
}

func (mc *MetricsCollector) Collect() SystemMetrics {
	// CPU metrics
	cpuPercent, _ := cpu.Percent(200*time.Millisecond, true)
	cpuInfo, _ := cpu.Info()

	var cpuBrand string
	var cpuFreq uint64
	if len(cpuInfo) > 0 {
		cpuBrand = cpuInfo[0].ModelName
		cpuFreq = uint64(cpuInfo[0].Mhz)
	}

	var totalCPU float32
	perCore := make([]float32, len(cpuPercent))
	for i, p := range cpuPercent {
		perCore[i] = float32(p)
		totalCPU += float32(p)
	}
	if len(cpuPercent) > 0 {
		totalCPU /= float32(len(cpuPercent))
	}

	// Memory metrics
	memInfo, _ := mem.VirtualMemory()
	swapInfo, _ := mem.SwapMemory()

	var memory MemoryMetrics
	if memInfo != nil {
		memory = MemoryMetrics{
			Total:        memInfo.Total,
			Used:         memInfo.Used,
			Available:    memInfo.Available,
			UsagePercent: float32(memInfo.UsedPercent),
		}
	}
	if swapInfo != nil {
		memory.SwapTotal = swapInfo.Total
		memory.SwapUsed = swapInfo.Used
	}

	// Disk metrics from mounted filesystems
	diskMetrics := collectDisks()

	// Network metrics
	netIO, _ := net.IOCounters(true)
	var interfaces []NetworkInterface
	var totalRx, totalTx uint64

	for _, io := range netIO {
		if isVirtualInterface(io.Name) {
			continue
		}

		interfaces = append(interfaces, NetworkInterface{
			Name:      io.Name,
			RxBytes:   io.BytesRecv,
			TxBytes:   io.BytesSent,
			RxPackets: io.PacketsRecv,
			TxPackets: io.PacketsSent,
		})
		totalRx += io.BytesRecv
		totalTx += io.BytesSent
	}

	// Speeds come from counter deltas. Counters can go backwards when an
	// interface resets; report 0 for that sample rather than underflowing.
	mc.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(mc.lastNetworkTime).Seconds()
	var rxSpeed, txSpeed uint64
	if elapsed > 0.1 {
		if totalRx >= mc.lastNetworkRx {
			rxSpeed = uint64(float64(totalRx-mc.lastNetworkRx) / elapsed)
		}
		if totalTx >= mc.lastNetworkTx {
			txSpeed = uint64(float64(totalTx-mc.lastNetworkTx) / elapsed)
		}
		mc.lastNetworkRx = totalRx
		mc.lastNetworkTx = totalTx
		mc.lastNetworkTime = now
	}
	mc.mu.Unlock()

	// Load average
	loadAvg, _ := load.Avg()
	var la LoadAverage
	if loadAvg != nil {
		la = LoadAverage{
			One:     loadAvg.Load1,
			Five:    loadAvg.Load5,
			Fifteen: loadAvg.Load15,
		}
	}

	// Host info
	hostInfo, _ := host.Info()
	uptime, _ := host.Uptime()

	var hostname string
	var osInfo OsInfo
	if hostInfo != nil {
		hostname = hostInfo.Hostname
		osInfo = OsInfo{
			Name:    hostInfo.Platform,
			Version: hostInfo.PlatformVersion,
			Kernel:  hostInfo.KernelVersion,
			Arch:    runtime.GOARCH,
		}
	}

	// Cached ping results from the ping loop
	mc.pingResultsMu.RLock()
	ping := mc.pingResults
	mc.pingResultsMu.RUnlock()

	metrics := SystemMetrics{
		Timestamp: time.Now().UTC(),
		Hostname:  hostname,
		OS:        osInfo,
		CPU: CpuMetrics{
			Brand:     cpuBrand,
			Cores:     len(cpuPercent),
			Usage:     totalCPU,
			Frequency: cpuFreq,
			PerCore:   perCore,
		},
		Memory: memory,
		Disks:  diskMetrics,
		Network: NetworkMetrics{
			Interfaces: interfaces,
			TotalRx:    totalRx,
			TotalTx:    totalTx,
			RxSpeed:    rxSpeed,
			TxSpeed:    txSpeed,
		},
		Uptime:      uptime,
		LoadAverage: la,
		Ping:        ping,
		Version:     AgentVersion,
	}

	if len(mc.ipAddresses) > 0 {
		metrics.IPAddresses = mc.ipAddresses
	}

	return metrics
}

func (mc *MetricsCollector) pingLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		mc.customTargetsMu.RLock()
		customTargets := mc.customPingTargets
		mc.customTargetsMu.RUnlock()

		results := collectPingMetrics(mc.gatewayIP, customTargets)

		mc.pingResultsMu.Lock()
		mc.pingResults = results
		mc.pingResultsMu.Unlock()
	}
}
