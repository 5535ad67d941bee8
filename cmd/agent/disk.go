package main

import (
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
)

// Filesystems that never represent real storage.
var pseudoFilesystems = map[string]bool{
	"proc":        true,
	"procfs":      true,
	"sysfs":       true,
	"devfs":       true,
	"devtmpfs":    true,
	"tmpfs":       true,
	"ramfs":       true,
	"squashfs":    true,
	"overlay":     true,
	"overlayfs":   true,
	"cgroup":      true,
	"cgroup2":     true,
	"debugfs":     true,
	"securityfs":  true,
	"fusectl":     true,
	"configfs":    true,
	"pstore":      true,
	"autofs":      true,
	"mqueue":      true,
	"hugetlbfs":   true,
	"binfmt_misc": true,
	"tracefs":     true,
	"nsfs":        true,
	"efivarfs":    true,
}

// collectDisks reports usage for each real mounted filesystem.
func collectDisks() []DiskMetrics {
	partitions, err := disk.Partitions(false)
	if err != nil {
		return nil
	}

	var disks []DiskMetrics
	seen := make(map[string]bool)

	for _, p := range partitions {
		if pseudoFilesystems[strings.ToLower(p.Fstype)] {
			continue
		}
		// Snap images and the EFI partition show up as tiny read-only
		// mounts that clutter the dashboard.
		if strings.HasPrefix(p.Mountpoint, "/snap") || strings.HasPrefix(p.Mountpoint, "/boot/efi") {
			continue
		}
		if seen[p.Mountpoint] {
			continue
		}

		usage, err := disk.Usage(p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}

		name := strings.TrimPrefix(p.Device, "/dev/")
		if name == "" {
			name = p.Mountpoint
		}

		disks = append(disks, DiskMetrics{
			Name:         name,
			MountPoint:   p.Mountpoint,
			FSType:       p.Fstype,
			Total:        usage.Total,
			Used:         usage.Used,
			Available:    usage.Free,
			UsagePercent: float32(float64(usage.Used) / float64(usage.Total) * 100),
		})
		seen[p.Mountpoint] = true
	}

	return disks
}
