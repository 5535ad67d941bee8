package main

import (
	"context"
	"net"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// collectPingMetrics probes the default targets plus any targets pushed
// by the dashboard. Duplicate hosts are probed once.
func collectPingMetrics(gatewayIP string, customTargets []PingTargetConfig) *PingMetrics {
	var targets []PingTarget

	defaultTargets := []struct {
		name string
		host string
	}{
		{"Google DNS", "8.8.8.8"},
		{"Cloudflare", "1.1.1.1"},
		{"Local Gateway", gatewayIP},
	}

	pingedHosts := make(map[string]bool)

	for _, dt := range defaultTargets {
		if dt.host == "" || pingedHosts[dt.host] {
			continue
		}

		latency, packetLoss, status := pingHost(dt.host)
		targets = append(targets, PingTarget{
			Name:       dt.name,
			Host:       dt.host,
			LatencyMs:  latency,
			PacketLoss: packetLoss,
			Status:     status,
		})
		pingedHosts[dt.host] = true
	}

	for _, ct := range customTargets {
		if ct.Host == "" || pingedHosts[ct.Host] {
			continue
		}

		var latency *float64
		var packetLoss float64
		var status string

		if ct.Type == "tcp" {
			port := ct.Port
			if port == 0 {
				port = 80
			}
			latency, status = probeTCP(ct.Host, port)
			if status == "ok" {
				packetLoss = 0.0
			} else {
				packetLoss = 100.0
			}
		} else {
			latency, packetLoss, status = pingHost(ct.Host)
		}

		targets = append(targets, PingTarget{
			Name:       ct.Name,
			Host:       ct.Host,
			LatencyMs:  latency,
			PacketLoss: packetLoss,
			Status:     status,
		})
		pingedHosts[ct.Host] = true
	}

	return &PingMetrics{Targets: targets}
}

// probeTCP measures connect latency to host:port.
func probeTCP(host string, port int) (*float64, string) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	start := time.Now()

	conn, err := net.DialTimeout("tcp", address, 3*time.Second)
	if err != nil {
		return nil, "error"
	}
	defer conn.Close()

	latency := float64(time.Since(start).Microseconds()) / 1000.0
	return &latency, "ok"
}

// pingHost shells out to the system ping and parses loss and average
// latency from its output.
func pingHost(host string) (*float64, float64, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "ping", "-n", "3", "-w", "2000", host)
	} else {
		cmd = exec.CommandContext(ctx, "ping", "-c", "3", "-W", "2", host)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, 100.0, "error"
	}

	outputStr := string(output)
	status := "ok"
	packetLoss := 0.0
	var latency *float64

	// Parse packet loss
	if strings.Contains(outputStr, "100%") || strings.Contains(outputStr, "timeout") {
		status = "timeout"
		packetLoss = 100.0
	} else {
		packetLossRegex := regexp.MustCompile(`(\d+(?:\.\d+)?)%\s*(?:packet\s+)?loss`)
		if matches := packetLossRegex.FindStringSubmatch(outputStr); len(matches) > 1 {
			if loss, err := strconv.ParseFloat(matches[1], 64); err == nil {
				packetLoss = loss
			}
		}
	}

	// Parse average latency
	if runtime.GOOS == "windows" {
		// Windows format: "Average = 12ms"
		avgRegex := regexp.MustCompile(`Average\s*=\s*(\d+)\s*ms`)
		if matches := avgRegex.FindStringSubmatch(outputStr); len(matches) > 1 {
			if lat, err := strconv.ParseFloat(matches[1], 64); err == nil {
				latency = &lat
			}
		}
	} else {
		// Linux/macOS format: "min/avg/max/mdev = 1.234/2.345/3.456/0.567 ms"
		avgRegex := regexp.MustCompile(`(?:min/avg/max|round-trip)\s*[=:]\s*[\d.]+/([\d.]+)/[\d.]+`)
		if matches := avgRegex.FindStringSubmatch(outputStr); len(matches) > 1 {
			if lat, err := strconv.ParseFloat(matches[1], 64); err == nil {
				latency = &lat
			}
		}
		// Fallback: take the last number followed by "ms"
		if latency == nil {
			msRegex := regexp.MustCompile(`(\d+(?:\.\d+)?)\s*ms`)
			matches := msRegex.FindAllStringSubmatch(outputStr, -1)
			if len(matches) > 0 {
				if lat, err := strconv.ParseFloat(matches[len(matches)-1][1], 64); err == nil {
					latency = &lat
				}
			}
		}
	}

	if packetLoss >= 100.0 {
		status = "timeout"
	} else if latency == nil && packetLoss > 0 {
		status = "error"
	}

	return latency, packetLoss, status
}
