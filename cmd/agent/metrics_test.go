package main

import (
	"math"
	"testing"
	"time"
)

// testCollector builds a collector without starting the ping loop or
// shelling out for gateway detection
func testCollector() *MetricsCollector {
	return &MetricsCollector{
		lastNetworkTime: time.Now().Add(-time.Second),
		pingResults:     &PingMetrics{Targets: []PingTarget{}},
	}
}

// TestCollectBasics samples the real host once and checks internal
// consistency of the result
func TestCollectBasics(t *testing.T) {
	mc := testCollector()
	metrics := mc.Collect()

	if metrics.Timestamp.IsZero() {
		t.Error("Sample should be timestamped")
	}
	if time.Since(metrics.Timestamp) > time.Minute {
		t.Errorf("Timestamp too old: %v", metrics.Timestamp)
	}
	if metrics.Version != AgentVersion {
		t.Errorf("Expected version %q, got %q", AgentVersion, metrics.Version)
	}
	if metrics.CPU.Cores != len(metrics.CPU.PerCore) {
		t.Errorf("Core count %d does not match per-core list %d", metrics.CPU.Cores, len(metrics.CPU.PerCore))
	}
	if metrics.CPU.Usage < 0 || metrics.CPU.Usage > 100 {
		t.Errorf("CPU usage out of range: %v", metrics.CPU.Usage)
	}
	if metrics.Memory.UsagePercent < 0 || metrics.Memory.UsagePercent > 100 {
		t.Errorf("Memory usage out of range: %v", metrics.Memory.UsagePercent)
	}
	if metrics.Ping == nil {
		t.Error("Ping results should carry the cached probe set")
	}
}

// TestNetworkSpeedDerivation covers the counter bookkeeping between samples
func TestNetworkSpeedDerivation(t *testing.T) {
	t.Run("counter reset reports zero speed", func(t *testing.T) {
		mc := testCollector()
		// Pretend the previous sample saw more traffic than any interface
		// can have now, as happens when an interface resets its counters
		mc.lastNetworkRx = math.MaxUint64 / 2
		mc.lastNetworkTx = math.MaxUint64 / 2

		metrics := mc.Collect()

		if metrics.Network.RxSpeed != 0 {
			t.Errorf("Expected rx speed 0 after a counter reset, got %d", metrics.Network.RxSpeed)
		}
		if metrics.Network.TxSpeed != 0 {
			t.Errorf("Expected tx speed 0 after a counter reset, got %d", metrics.Network.TxSpeed)
		}

		// The baseline must resync so the next sample derives real speeds
		mc.mu.Lock()
		defer mc.mu.Unlock()
		if mc.lastNetworkRx != metrics.Network.TotalRx {
			t.Errorf("Rx baseline not resynced: %d vs %d", mc.lastNetworkRx, metrics.Network.TotalRx)
		}
		if mc.lastNetworkTx != metrics.Network.TotalTx {
			t.Errorf("Tx baseline not resynced: %d vs %d", mc.lastNetworkTx, metrics.Network.TotalTx)
		}
	})

	t.Run("totals exclude virtual interfaces", func(t *testing.T) {
		mc := testCollector()
		metrics := mc.Collect()

		for _, iface := range metrics.Network.Interfaces {
			if isVirtualInterface(iface.Name) {
				t.Errorf("Virtual interface %q should be filtered out", iface.Name)
			}
		}
	})
}

// TestSetPingTargets checks the push-config handoff into the ping loop
func TestSetPingTargets(t *testing.T) {
	mc := testCollector()

	targets := []PingTargetConfig{
		{Name: "Hub", Host: "10.0.0.1", Type: "tcp", Port: 443},
	}
	mc.SetPingTargets(targets)

	mc.customTargetsMu.RLock()
	got := mc.customPingTargets
	mc.customTargetsMu.RUnlock()
	if len(got) != 1 || got[0].Name != "Hub" {
		t.Errorf("Targets not stored: %+v", got)
	}

	mc.SetPingTargets(nil)
	mc.customTargetsMu.RLock()
	got = mc.customPingTargets
	mc.customTargetsMu.RUnlock()
	if got != nil {
		t.Errorf("Targets should be cleared, got %+v", got)
	}
}
