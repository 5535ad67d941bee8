package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// handleUpdateCommand replaces the running executable with a freshly
// downloaded one and restarts.
func (wsc *WebSocketClient) handleUpdateCommand(downloadURL string) {
	log.Println("Starting self-update process...")

	currentExe, err := os.Executable()
	if err != nil {
		log.Printf("Failed to get current executable path: %v", err)
		return
	}

	// When the command carries no URL, fall back to the hub's release
	// endpoint for this platform.
	url := downloadURL
	if url == "" {
		url = defaultUpdateURL(wsc.config.DashboardURL)
	}

	if err := applyUpdate(currentExe, url); err != nil {
		log.Printf("Update failed: %v", err)
		return
	}

	log.Println("Update installed successfully! Restarting...")

	scheduleRestart()

	// Give the restart command a moment to register
	time.Sleep(500 * time.Millisecond)

	// Exit to allow restart
	os.Exit(0)
}

// defaultUpdateURL points at the hub's release endpoint for this platform.
func defaultUpdateURL(dashboardURL string) string {
	binaryName := fmt.Sprintf("fleetpulse-agent-%s-%s", runtime.GOOS, runtime.GOARCH)
	if runtime.GOOS == "windows" {
		binaryName += ".exe"
	}
	return fmt.Sprintf("%s/releases/%s", strings.TrimSuffix(dashboardURL, "/"), binaryName)
}

// applyUpdate downloads url and swaps it in over exePath. The swap is staged
// through exePath.new and exePath.backup so that any failure leaves the
// original binary in place.
func applyUpdate(exePath, url string) error {
	log.Printf("Downloading update from: %s", url)

	tempPath := exePath + ".new"
	if err := downloadFile(url, tempPath); err != nil {
		return fmt.Errorf("failed to download update: %w", err)
	}

	log.Println("Download complete, applying update...")

	// On Unix, set execute permissions
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tempPath, 0755); err != nil {
			os.Remove(tempPath)
			return fmt.Errorf("failed to set permissions: %w", err)
		}
	}

	// Backup current executable
	backupPath := exePath + ".backup"
	if err := os.Rename(exePath, backupPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to backup current executable: %w", err)
	}

	// Move new executable to current path
	if err := os.Rename(tempPath, exePath); err != nil {
		os.Rename(backupPath, exePath)
		return fmt.Errorf("failed to install new executable: %w", err)
	}

	os.Remove(backupPath)
	return nil
}

// scheduleRestart arranges for the service manager to bring the agent
// back up after we exit.
func scheduleRestart() {
	switch runtime.GOOS {
	case "linux":
		// INVOCATION_ID is only set when systemd started us
		if os.Getenv("INVOCATION_ID") == "" {
			return
		}
		// systemd-run --no-block runs the restart in an independent
		// transient unit, so it survives our own cgroup being stopped.
		cmd := exec.Command("systemd-run", "--no-block", "systemctl", "restart", "fleetpulse-agent")
		if err := cmd.Start(); err != nil {
			log.Printf("Failed to schedule restart via systemd-run: %v", err)
			exec.Command("systemctl", "restart", "fleetpulse-agent").Start()
		} else {
			log.Println("Restart scheduled via systemd-run")
		}
	case "windows":
		cmd := exec.Command("cmd", "/C", "sc", "stop", "fleetpulse-agent", "&&", "timeout", "/t", "2", "&&", "sc", "start", "fleetpulse-agent")
		cmd.Start()
	}
}

// downloadFile downloads a file from URL to path.
func downloadFile(url, path string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
