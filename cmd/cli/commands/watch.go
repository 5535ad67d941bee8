package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live fleet snapshots, one line each",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := wsURL("/ws")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return fmt.Errorf("failed to connect to %s: %w", url, err)
		}
		defer conn.Close()

		fmt.Printf("Watching %s (Ctrl+C to stop)\n", serverURL())

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("connection closed: %w", err)
			}

			var snapshot dashboardSnapshot
			if err := json.Unmarshal(message, &snapshot); err != nil {
				continue
			}
			if snapshot.Type != "metrics" {
				continue
			}

			printSnapshotLine(&snapshot)
		}
	},
}

// printSnapshotLine condenses a snapshot into a single summary line.
func printSnapshotLine(snapshot *dashboardSnapshot) {
	online := 0
	var cpuSum, memSum float64
	var rxSpeed, txSpeed uint64

	for _, srv := range snapshot.Servers {
		if !srv.Online {
			continue
		}
		online++
		if srv.Metrics != nil {
			cpuSum += float64(srv.Metrics.CPU.Usage)
			memSum += float64(srv.Metrics.Memory.UsagePercent)
			rxSpeed += srv.Metrics.Network.RxSpeed
			txSpeed += srv.Metrics.Network.TxSpeed
		}
	}

	var cpuAvg, memAvg float64
	if online > 0 {
		cpuAvg = cpuSum / float64(online)
		memAvg = memSum / float64(online)
	}

	fmt.Printf("%s  %d/%d online  cpu %5.1f%%  mem %5.1f%%  rx %s  tx %s\n",
		time.Now().Format("15:04:05"),
		online, len(snapshot.Servers),
		cpuAvg, memAvg,
		humanRate(rxSpeed), humanRate(txSpeed))
}

// humanRate formats bytes/sec with a sensible unit.
func humanRate(bytesPerSec uint64) string {
	const unit = 1024
	switch {
	case bytesPerSec >= unit*unit*unit:
		return fmt.Sprintf("%.1f GB/s", float64(bytesPerSec)/(unit*unit*unit))
	case bytesPerSec >= unit*unit:
		return fmt.Sprintf("%.1f MB/s", float64(bytesPerSec)/(unit*unit))
	case bytesPerSec >= unit:
		return fmt.Sprintf("%.1f KB/s", float64(bytesPerSec)/unit)
	default:
		return fmt.Sprintf("%d B/s", bytesPerSec)
	}
}
