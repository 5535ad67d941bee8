package main

import (
	"net"
	"testing"
)

// listenTCP opens a loopback listener and returns its port
func listenTCP(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port
	return ln, port
}

func TestProbeTCP(t *testing.T) {
	t.Run("open port", func(t *testing.T) {
		_, port := listenTCP(t)

		latency, status := probeTCP("127.0.0.1", port)
		if status != "ok" {
			t.Fatalf("Expected ok, got %q", status)
		}
		if latency == nil || *latency < 0 {
			t.Errorf("Expected a non-negative latency, got %v", latency)
		}
	})

	t.Run("closed port", func(t *testing.T) {
		ln, port := listenTCP(t)
		ln.Close()

		latency, status := probeTCP("127.0.0.1", port)
		if status != "error" {
			t.Errorf("Expected error, got %q", status)
		}
		if latency != nil {
			t.Errorf("Expected no latency on failure, got %v", *latency)
		}
	})
}

// TestCollectPingMetricsCustomTargets runs the probe set with a local TCP
// target mixed in. Only the custom targets are asserted on; the built-in
// ICMP targets depend on the network the test runs in.
func TestCollectPingMetricsCustomTargets(t *testing.T) {
	if testing.Short() {
		t.Skip("Probes external hosts")
	}

	_, port := listenTCP(t)

	custom := []PingTargetConfig{
		{Name: "Hub", Host: "127.0.0.1", Type: "tcp", Port: port},
	}

	results := collectPingMetrics("", custom)
	if results == nil {
		t.Fatal("Expected a result set")
	}

	var hub *PingTarget
	hosts := map[string]int{}
	for i := range results.Targets {
		hosts[results.Targets[i].Host]++
		if results.Targets[i].Name == "Hub" {
			hub = &results.Targets[i]
		}
	}

	if hub == nil {
		t.Fatal("Custom target missing from results")
	}
	if hub.Status != "ok" {
		t.Errorf("Expected the local target to be reachable, got %q", hub.Status)
	}
	if hub.LatencyMs == nil {
		t.Error("Expected a connect latency for the local target")
	}
	if hub.PacketLoss != 0 {
		t.Errorf("Expected no loss on TCP connect, got %v", hub.PacketLoss)
	}

	// Each host appears once even when default and custom lists overlap
	for host, count := range hosts {
		if count > 1 {
			t.Errorf("Host %s probed %d times", host, count)
		}
	}
}

// TestCollectPingMetricsDeduplicates checks that a custom target matching a
// default host is not probed twice
func TestCollectPingMetricsDeduplicates(t *testing.T) {
	if testing.Short() {
		t.Skip("Probes external hosts")
	}

	custom := []PingTargetConfig{
		{Name: "My DNS", Host: "8.8.8.8"},
	}

	results := collectPingMetrics("", custom)

	count := 0
	for _, target := range results.Targets {
		if target.Host == "8.8.8.8" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected 8.8.8.8 to be probed once, got %d entries", count)
	}
	// The default entry wins the name since it is probed first
	for _, target := range results.Targets {
		if target.Host == "8.8.8.8" && target.Name != "Google DNS" {
			t.Errorf("Expected the default entry to own the host, got %q", target.Name)
		}
	}
}
