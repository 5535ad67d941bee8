package main

import (
	"bufio"
	"os/exec"
	"runtime"
	"strings"
)

// isVirtualInterface reports whether an interface name belongs to a
// loopback, container, or tunnel device that should not count toward
// the host's traffic totals.
func isVirtualInterface(name string) bool {
	name = strings.ToLower(name)
	return name == "lo" || name == "lo0" ||
		strings.HasPrefix(name, "veth") ||
		strings.HasPrefix(name, "docker") ||
		strings.HasPrefix(name, "br-") ||
		strings.HasPrefix(name, "virbr") ||
		strings.HasPrefix(name, "utun") ||
		strings.HasPrefix(name, "awdl") ||
		strings.HasPrefix(name, "llw")
}

// detectGateway finds the default gateway IP so the ping loop can probe it.
func detectGateway() string {
	switch runtime.GOOS {
	case "linux":
		// Parse: default via 192.168.1.1 dev eth0
		cmd := exec.Command("ip", "route", "show", "default")
		output, err := cmd.Output()
		if err == nil {
			fields := strings.Fields(string(output))
			for i, field := range fields {
				if field == "via" && i+1 < len(fields) {
					gateway := fields[i+1]
					if strings.Contains(gateway, ".") && !strings.Contains(gateway, "/") {
						return gateway
					}
				}
			}
		}
	case "darwin":
		cmd := exec.Command("route", "-n", "get", "default")
		output, err := cmd.Output()
		if err == nil {
			scanner := bufio.NewScanner(strings.NewReader(string(output)))
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if strings.HasPrefix(line, "gateway:") {
					parts := strings.Fields(line)
					if len(parts) > 1 {
						return parts[1]
					}
				}
			}
		}
	case "windows":
		cmd := exec.Command("powershell", "-Command", "(Get-NetRoute -DestinationPrefix '0.0.0.0/0' | Select-Object -First 1).NextHop")
		output, err := cmd.Output()
		if err == nil {
			gateway := strings.TrimSpace(string(output))
			if gateway != "" && strings.Contains(gateway, ".") {
				return gateway
			}
		}
		// Fallback: use 'route print'
		cmd = exec.Command("cmd", "/C", "route", "print", "0.0.0.0")
		output, err = cmd.Output()
		if err == nil {
			scanner := bufio.NewScanner(strings.NewReader(string(output)))
			for scanner.Scan() {
				fields := strings.Fields(scanner.Text())
				if len(fields) >= 3 && fields[0] == "0.0.0.0" {
					gateway := fields[2]
					if strings.Contains(gateway, ".") && gateway != "0.0.0.0" {
						return gateway
					}
				}
			}
		}
	}
	return ""
}

// collectIPAddresses gathers the host's non-loopback IPv4 addresses.
func collectIPAddresses() []string {
	var ips []string

	switch runtime.GOOS {
	case "linux":
		// Try 'hostname -I' first
		cmd := exec.Command("hostname", "-I")
		output, err := cmd.Output()
		if err == nil {
			for _, ip := range strings.Fields(string(output)) {
				if strings.Contains(ip, ".") && !strings.HasPrefix(ip, "127.") {
					ips = append(ips, ip)
				}
			}
		}
		// Fallback: use 'ip addr show'
		if len(ips) == 0 {
			cmd = exec.Command("ip", "addr", "show")
			output, err := cmd.Output()
			if err == nil {
				scanner := bufio.NewScanner(strings.NewReader(string(output)))
				for scanner.Scan() {
					line := scanner.Text()
					if strings.Contains(line, "inet ") && !strings.Contains(line, "127.0.0.1") {
						fields := strings.Fields(line)
						if len(fields) >= 2 {
							ip := strings.Split(fields[1], "/")[0]
							if strings.Contains(ip, ".") && !strings.HasPrefix(ip, "127.") {
								ips = append(ips, ip)
							}
						}
					}
				}
			}
		}
	case "darwin":
		cmd := exec.Command("ifconfig")
		output, err := cmd.Output()
		if err == nil {
			scanner := bufio.NewScanner(strings.NewReader(string(output)))
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if strings.HasPrefix(line, "inet ") && !strings.Contains(line, "127.0.0.1") {
					fields := strings.Fields(line)
					if len(fields) >= 2 {
						ip := fields[1]
						if strings.Contains(ip, ".") && !strings.HasPrefix(ip, "127.") {
							ips = append(ips, ip)
						}
					}
				}
			}
		}
	case "windows":
		cmd := exec.Command("powershell", "-Command", "(Get-NetIPAddress -AddressFamily IPv4 | Where-Object { $_.IPAddress -ne '127.0.0.1' }).IPAddress")
		output, err := cmd.Output()
		if err == nil {
			scanner := bufio.NewScanner(strings.NewReader(string(output)))
			for scanner.Scan() {
				ip := strings.TrimSpace(scanner.Text())
				if ip != "" && strings.Contains(ip, ".") && !strings.HasPrefix(ip, "127.") {
					ips = append(ips, ip)
				}
			}
		}
	}

	return ips
}
