package main

import (
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// TestHelper provides test utilities
type TestHelper struct {
	db     *sql.DB
	dbPath string
}

// NewTestHelper creates a test helper backed by a temp-file database with the
// production schema
func NewTestHelper(t *testing.T) *TestHelper {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "fleetpulse_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp db: %v", err)
	}
	dbPath := tmpFile.Name()
	tmpFile.Close()

	db, err := InitDatabaseAt(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	return &TestHelper{
		db:     db,
		dbPath: dbPath,
	}
}

// Close cleans up the test helper
func (h *TestHelper) Close() {
	if h.db != nil {
		h.db.Close()
	}
	os.Remove(h.dbPath)
	os.Remove(h.dbPath + "-wal")
	os.Remove(h.dbPath + "-shm")
}

// insertRaw writes one raw row directly, bypassing the write worker
func (h *TestHelper) insertRaw(t *testing.T, serverID string, ts time.Time, cpu, memory, disk float64, netRx, netTx int64) {
	t.Helper()
	_, err := h.db.Exec(`
		INSERT INTO metrics_raw (server_id, timestamp, cpu, memory, disk, net_rx, net_tx, ping_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)`,
		serverID, ts.UTC().Format(time.RFC3339), cpu, memory, disk, netRx, netTx)
	if err != nil {
		t.Fatalf("Failed to insert raw row: %v", err)
	}
}

// TestDBWriter tests the DBWriter functionality
func TestDBWriter(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	t.Run("NewDBWriter", func(t *testing.T) {
		writer := NewDBWriter(helper.db, 100)
		if writer == nil {
			t.Fatal("NewDBWriter returned nil")
		}
		writer.Close()
	})

	t.Run("GetDB returns database", func(t *testing.T) {
		writer := NewDBWriter(helper.db, 100)
		defer writer.Close()

		db := writer.GetDB()
		if db == nil {
			t.Error("GetDB returned nil")
		}
		if db != helper.db {
			t.Error("GetDB returned different database")
		}
	})

	t.Run("WriteSync executes operation", func(t *testing.T) {
		writer := NewDBWriter(helper.db, 100)
		defer writer.Close()

		executed := false
		err := writer.WriteSync(func(db *sql.DB) error {
			executed = true
			return nil
		})

		if err != nil {
			t.Errorf("WriteSync returned error: %v", err)
		}
		if !executed {
			t.Error("WriteSync did not execute operation")
		}
	})

	t.Run("Close drains queued writes", func(t *testing.T) {
		writer := NewDBWriter(helper.db, 100)

		results := make(chan int, 10)
		for i := 0; i < 10; i++ {
			n := i
			writer.WriteAsync(func(db *sql.DB) error {
				results <- n
				return nil
			})
		}
		writer.Close()

		if len(results) != 10 {
			t.Errorf("Expected 10 drained writes, got %d", len(results))
		}
	})
}

// TestStoreMetrics verifies scalar derivation from a full sample
func TestStoreMetrics(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	t.Run("derives scalars and leaves ping NULL", func(t *testing.T) {
		metrics := &SystemMetrics{
			Timestamp: time.Now(),
			CPU:       CpuMetrics{Usage: 12.5},
			Memory:    MemoryMetrics{UsagePercent: 40},
			Disks: []DiskMetrics{
				{Name: "sda1", MountPoint: "/", UsagePercent: 80},
				{Name: "sdb1", MountPoint: "/data", UsagePercent: 35},
			},
			Network: NetworkMetrics{TotalRx: 1000, TotalTx: 2000},
		}

		if err := storeMetricsInternal(helper.db, "srv-1", metrics); err != nil {
			t.Fatalf("storeMetricsInternal failed: %v", err)
		}

		var cpu, memory, disk float64
		var netRx, netTx int64
		var ping sql.NullFloat64
		err := helper.db.QueryRow(`
			SELECT cpu, memory, disk, net_rx, net_tx, ping_ms FROM metrics_raw WHERE server_id = 'srv-1'`).
			Scan(&cpu, &memory, &disk, &netRx, &netTx, &ping)
		if err != nil {
			t.Fatalf("Failed to read stored row: %v", err)
		}

		if cpu != 12.5 {
			t.Errorf("Expected cpu 12.5, got %v", cpu)
		}
		if memory != 40 {
			t.Errorf("Expected memory 40, got %v", memory)
		}
		if disk != 80 {
			t.Errorf("Expected disk 80 (max across disks), got %v", disk)
		}
		if netRx != 1000 || netTx != 2000 {
			t.Errorf("Expected net counters 1000/2000, got %d/%d", netRx, netTx)
		}
		if ping.Valid {
			t.Errorf("Expected NULL ping_ms, got %v", ping.Float64)
		}
	})

	t.Run("upserts on identical timestamp", func(t *testing.T) {
		ts := time.Now().Add(time.Minute)
		first := &SystemMetrics{Timestamp: ts, CPU: CpuMetrics{Usage: 10}}
		second := &SystemMetrics{Timestamp: ts, CPU: CpuMetrics{Usage: 20}}

		if err := storeMetricsInternal(helper.db, "srv-upsert", first); err != nil {
			t.Fatalf("first insert failed: %v", err)
		}
		if err := storeMetricsInternal(helper.db, "srv-upsert", second); err != nil {
			t.Fatalf("second insert failed: %v", err)
		}

		var count int
		helper.db.QueryRow(`SELECT COUNT(*) FROM metrics_raw WHERE server_id = 'srv-upsert'`).Scan(&count)
		if count != 1 {
			t.Errorf("Expected 1 row after upsert, got %d", count)
		}

		var cpu float64
		helper.db.QueryRow(`SELECT cpu FROM metrics_raw WHERE server_id = 'srv-upsert'`).Scan(&cpu)
		if cpu != 20 {
			t.Errorf("Expected upserted cpu 20, got %v", cpu)
		}
	})

	t.Run("stores per-target ping rows and averaged ping_ms", func(t *testing.T) {
		lat1 := 12.0
		lat2 := 18.0
		metrics := &SystemMetrics{
			Timestamp: time.Now().Add(2 * time.Minute),
			CPU:       CpuMetrics{Usage: 5},
			Ping: &PingMetrics{Targets: []PingTarget{
				{Name: "google", Host: "8.8.8.8", LatencyMs: &lat1, Status: "ok"},
				{Name: "cf", Host: "1.1.1.1", LatencyMs: &lat2, Status: "ok"},
				{Name: "dead", Host: "192.0.2.1", LatencyMs: nil, PacketLoss: 100, Status: "timeout"},
			}},
		}

		if err := storeMetricsInternal(helper.db, "srv-ping", metrics); err != nil {
			t.Fatalf("storeMetricsInternal failed: %v", err)
		}

		var ping sql.NullFloat64
		helper.db.QueryRow(`SELECT ping_ms FROM metrics_raw WHERE server_id = 'srv-ping'`).Scan(&ping)
		if !ping.Valid || ping.Float64 != 15 {
			t.Errorf("Expected averaged ping_ms 15, got %+v", ping)
		}

		var targets int
		helper.db.QueryRow(`SELECT COUNT(*) FROM ping_raw WHERE server_id = 'srv-ping'`).Scan(&targets)
		if targets != 3 {
			t.Errorf("Expected 3 ping_raw rows, got %d", targets)
		}

		var status string
		var latency sql.NullFloat64
		helper.db.QueryRow(`SELECT status, latency_ms FROM ping_raw WHERE server_id = 'srv-ping' AND target_name = 'dead'`).
			Scan(&status, &latency)
		if status != "timeout" || latency.Valid {
			t.Errorf("Expected timeout target with NULL latency, got status=%q latency=%+v", status, latency)
		}
	})
}

// TestGetHistory covers range selection against each tier
func TestGetHistory(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()

	t.Run("1h returns all recent raw points ascending", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			helper.insertRaw(t, "srv-1h", now.Add(-time.Duration(10-i)*time.Minute), float64(i), 50, 60, int64(i*100), int64(i*200))
		}

		data, err := GetHistory(helper.db, "srv-1h", "1h")
		if err != nil {
			t.Fatalf("GetHistory failed: %v", err)
		}
		if len(data) != 10 {
			t.Fatalf("Expected 10 points, got %d", len(data))
		}
		for i := 1; i < len(data); i++ {
			if data[i].Timestamp <= data[i-1].Timestamp {
				t.Fatalf("Points not strictly ascending at %d: %s <= %s", i, data[i].Timestamp, data[i-1].Timestamp)
			}
		}
	})

	t.Run("7d reads hourly rollups", func(t *testing.T) {
		hour := now.Truncate(time.Hour)
		for i := 1; i <= 5; i++ {
			_, err := helper.db.Exec(`
				INSERT INTO metrics_hourly (server_id, hour_start, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
				VALUES (?, ?, ?, 40, 60, 100, 200, NULL, 60)`,
				"srv-7d", hour.Add(-time.Duration(i)*time.Hour).Format(time.RFC3339), float64(i*10))
			if err != nil {
				t.Fatalf("Failed to seed hourly row: %v", err)
			}
		}

		data, err := GetHistory(helper.db, "srv-7d", "7d")
		if err != nil {
			t.Fatalf("GetHistory failed: %v", err)
		}
		if len(data) != 5 {
			t.Fatalf("Expected 5 hourly points, got %d", len(data))
		}
		if data[0].CPU != 50 {
			t.Errorf("Expected oldest hourly cpu 50, got %v", data[0].CPU)
		}
	})

	t.Run("30d and 1y read daily rollups", func(t *testing.T) {
		for i := 1; i <= 40; i++ {
			_, err := helper.db.Exec(`
				INSERT INTO metrics_daily (server_id, date, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
				VALUES (?, ?, 10, 40, 60, 100, 200, NULL, 1440)`,
				"srv-daily", now.AddDate(0, 0, -i).Format("2006-01-02"))
			if err != nil {
				t.Fatalf("Failed to seed daily row: %v", err)
			}
		}

		data30, err := GetHistory(helper.db, "srv-daily", "30d")
		if err != nil {
			t.Fatalf("GetHistory 30d failed: %v", err)
		}
		if len(data30) != 30 {
			t.Errorf("Expected 30 daily points for 30d, got %d", len(data30))
		}

		dataYear, err := GetHistory(helper.db, "srv-daily", "1y")
		if err != nil {
			t.Fatalf("GetHistory 1y failed: %v", err)
		}
		if len(dataYear) != 40 {
			t.Errorf("Expected all 40 daily points for 1y, got %d", len(dataYear))
		}

		// Unknown ranges fall back to the daily tier
		dataDefault, err := GetHistory(helper.db, "srv-daily", "bogus")
		if err != nil {
			t.Fatalf("GetHistory bogus failed: %v", err)
		}
		if len(dataDefault) != len(dataYear) {
			t.Errorf("Expected default range to match 1y, got %d vs %d", len(dataDefault), len(dataYear))
		}
	})
}

// Test24hDecimation inserts a day of minute-cadence rows and checks the
// 5-minute thinning window
func Test24hDecimation(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()
	start := now.Add(-24 * time.Hour)
	for i := 0; i < 1440; i++ {
		helper.insertRaw(t, "srv-dec", start.Add(time.Duration(i)*time.Minute), 10, 40, 60, int64(i), int64(i))
	}

	data, err := GetHistory(helper.db, "srv-dec", "24h")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}

	if len(data) < 280 || len(data) > 300 {
		t.Errorf("Expected 280-300 decimated points, got %d", len(data))
	}
	for i := 1; i < len(data); i++ {
		if data[i].Timestamp <= data[i-1].Timestamp {
			t.Fatalf("Decimated points not strictly ascending at %d", i)
		}
	}
}

// TestAggregateHourly covers averages, net deltas, and idempotence
func TestAggregateHourly(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour).Add(-2 * time.Hour)
	for i := 0; i < 60; i++ {
		helper.insertRaw(t, "srv-agg", hourStart.Add(time.Duration(i)*time.Minute), float64(i), 40, 60, int64(1000+i*10), int64(2000+i*20))
	}

	if err := AggregateHourly(helper.db, now); err != nil {
		t.Fatalf("AggregateHourly failed: %v", err)
	}

	readRow := func() (cpuAvg float64, netRx, netTx int64, samples int) {
		t.Helper()
		err := helper.db.QueryRow(`
			SELECT cpu_avg, net_rx_total, net_tx_total, sample_count
			FROM metrics_hourly WHERE server_id = 'srv-agg' AND hour_start = ?`,
			hourStart.Format(time.RFC3339)).Scan(&cpuAvg, &netRx, &netTx, &samples)
		if err != nil {
			t.Fatalf("Failed to read hourly row: %v", err)
		}
		return
	}

	cpuAvg, netRx, netTx, samples := readRow()
	if cpuAvg != 29.5 {
		t.Errorf("Expected cpu_avg 29.5, got %v", cpuAvg)
	}
	if netRx != 590 {
		t.Errorf("Expected net_rx_total 590 (last-first), got %d", netRx)
	}
	if netTx != 1180 {
		t.Errorf("Expected net_tx_total 1180, got %d", netTx)
	}
	if samples != 60 {
		t.Errorf("Expected 60 samples, got %d", samples)
	}

	// Second run over the same hour must settle on identical values
	if err := AggregateHourly(helper.db, now); err != nil {
		t.Fatalf("Second AggregateHourly failed: %v", err)
	}
	cpuAvg2, netRx2, netTx2, samples2 := readRow()
	if cpuAvg2 != cpuAvg || netRx2 != netRx || netTx2 != netTx || samples2 != samples {
		t.Errorf("Aggregation not idempotent: (%v,%d,%d,%d) vs (%v,%d,%d,%d)",
			cpuAvg, netRx, netTx, samples, cpuAvg2, netRx2, netTx2, samples2)
	}

	var hourlyRows int
	helper.db.QueryRow(`SELECT COUNT(*) FROM metrics_hourly WHERE server_id = 'srv-agg'`).Scan(&hourlyRows)
	if hourlyRows != 1 {
		t.Errorf("Expected exactly 1 hourly bucket, got %d", hourlyRows)
	}
}

// TestAggregateDaily verifies sample-weighted daily averages from hourly rows
func TestAggregateDaily(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()
	day := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)

	// Two hours with different weights: 10% over 30 samples, 40% over 90
	// samples. Weighted mean is 32.5.
	seed := func(hour time.Time, cpu float64, samples int, netRx int64) {
		t.Helper()
		_, err := helper.db.Exec(`
			INSERT INTO metrics_hourly (server_id, hour_start, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			VALUES (?, ?, ?, 40, 60, ?, 0, NULL, ?)`,
			"srv-day", hour.Format(time.RFC3339), cpu, netRx, samples)
		if err != nil {
			t.Fatalf("Failed to seed hourly row: %v", err)
		}
	}
	seed(day.Add(1*time.Hour), 10, 30, 100)
	seed(day.Add(2*time.Hour), 40, 90, 300)

	if err := AggregateDaily(helper.db, now); err != nil {
		t.Fatalf("AggregateDaily failed: %v", err)
	}

	var cpuAvg float64
	var netRx int64
	var samples int
	err := helper.db.QueryRow(`
		SELECT cpu_avg, net_rx_total, sample_count FROM metrics_daily WHERE server_id = 'srv-day' AND date = ?`,
		day.Format("2006-01-02")).Scan(&cpuAvg, &netRx, &samples)
	if err != nil {
		t.Fatalf("Failed to read daily row: %v", err)
	}

	if cpuAvg != 32.5 {
		t.Errorf("Expected weighted cpu_avg 32.5, got %v", cpuAvg)
	}
	if netRx != 400 {
		t.Errorf("Expected summed net_rx_total 400, got %d", netRx)
	}
	if samples != 120 {
		t.Errorf("Expected 120 samples, got %d", samples)
	}
}

// TestCleanupOldData checks each tier's retention cutoff
func TestCleanupOldData(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()

	helper.insertRaw(t, "srv-ret", now.Add(-49*time.Hour), 1, 1, 1, 0, 0)
	helper.insertRaw(t, "srv-ret", now.Add(-time.Hour), 2, 2, 2, 0, 0)

	helper.db.Exec(`INSERT INTO ping_raw (server_id, timestamp, target_name, target_host, latency_ms, packet_loss, status)
		VALUES ('srv-ret', ?, 'g', '8.8.8.8', 10, 0, 'ok')`, now.Add(-49*time.Hour).Format(time.RFC3339))

	seedHourly := func(ts time.Time) {
		helper.db.Exec(`INSERT INTO metrics_hourly (server_id, hour_start, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			VALUES ('srv-ret', ?, 1, 1, 1, 0, 0, NULL, 1)`, ts.Format(time.RFC3339))
	}
	seedHourly(now.Add(-91 * 24 * time.Hour))
	seedHourly(now.Add(-24 * time.Hour))

	seedDaily := func(ts time.Time) {
		helper.db.Exec(`INSERT INTO metrics_daily (server_id, date, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			VALUES ('srv-ret', ?, 1, 1, 1, 0, 0, NULL, 1)`, ts.Format("2006-01-02"))
	}
	seedDaily(now.AddDate(0, 0, -731))
	seedDaily(now.AddDate(0, 0, -1))

	if err := CleanupOldData(helper.db, now); err != nil {
		t.Fatalf("CleanupOldData failed: %v", err)
	}

	count := func(query string) int {
		t.Helper()
		var n int
		if err := helper.db.QueryRow(query).Scan(&n); err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		return n
	}

	if n := count(`SELECT COUNT(*) FROM metrics_raw WHERE server_id = 'srv-ret'`); n != 1 {
		t.Errorf("Expected 1 raw row after cleanup, got %d", n)
	}
	if n := count(`SELECT COUNT(*) FROM ping_raw WHERE server_id = 'srv-ret'`); n != 0 {
		t.Errorf("Expected 0 ping rows after cleanup, got %d", n)
	}
	if n := count(`SELECT COUNT(*) FROM metrics_hourly WHERE server_id = 'srv-ret'`); n != 1 {
		t.Errorf("Expected 1 hourly row after cleanup, got %d", n)
	}
	if n := count(`SELECT COUNT(*) FROM metrics_daily WHERE server_id = 'srv-ret'`); n != 1 {
		t.Errorf("Expected 1 daily row after cleanup, got %d", n)
	}
}

// TestGetPingHistory groups target series and skips rollup ranges
func TestGetPingHistory(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		ts := now.Add(-time.Duration(5-i) * time.Minute).Format(time.RFC3339)
		helper.db.Exec(`INSERT INTO ping_raw (server_id, timestamp, target_name, target_host, latency_ms, packet_loss, status)
			VALUES ('srv-p', ?, 'google', '8.8.8.8', ?, 0, 'ok')`, ts, float64(10+i))
		helper.db.Exec(`INSERT INTO ping_raw (server_id, timestamp, target_name, target_host, latency_ms, packet_loss, status)
			VALUES ('srv-p', ?, 'cf', '1.1.1.1', NULL, 100, 'timeout')`, ts)
	}

	targets, err := GetPingHistory(helper.db, "srv-p", "1h")
	if err != nil {
		t.Fatalf("GetPingHistory failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("Expected 2 targets, got %d", len(targets))
	}
	for _, target := range targets {
		if len(target.Data) != 5 {
			t.Errorf("Expected 5 points for %s, got %d", target.Name, len(target.Data))
		}
	}

	rollup, err := GetPingHistory(helper.db, "srv-p", "7d")
	if err != nil {
		t.Fatalf("GetPingHistory 7d failed: %v", err)
	}
	if rollup != nil {
		t.Errorf("Expected no ping series for rollup ranges, got %d targets", len(rollup))
	}
}

// TestRunAggregation exercises the single-flight guard and the full pipeline
func TestRunAggregation(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Close()

	oldWriter := dbWriter
	dbWriter = NewDBWriter(helper.db, 100)
	defer func() {
		dbWriter.Close()
		dbWriter = oldWriter
	}()

	now := time.Now().UTC()
	hourStart := now.Truncate(time.Hour).Add(-2 * time.Hour)
	for i := 0; i < 10; i++ {
		helper.insertRaw(t, "srv-run", hourStart.Add(time.Duration(i)*time.Minute), float64(i), 40, 60, int64(i), int64(i))
	}

	RunAggregation(now)

	var hourlyRows int
	helper.db.QueryRow(`SELECT COUNT(*) FROM metrics_hourly WHERE server_id = 'srv-run'`).Scan(&hourlyRows)
	if hourlyRows != 1 {
		t.Errorf("Expected 1 hourly row from RunAggregation, got %d", hourlyRows)
	}

	t.Run("skips when another run holds the lock", func(t *testing.T) {
		helper.db.Exec(`DELETE FROM metrics_hourly WHERE server_id = 'srv-run'`)

		aggMu.Lock()
		RunAggregation(now)
		aggMu.Unlock()

		var n int
		helper.db.QueryRow(`SELECT COUNT(*) FROM metrics_hourly WHERE server_id = 'srv-run'`).Scan(&n)
		if n != 0 {
			t.Errorf("Expected skipped run to produce no rows, got %d", n)
		}
	})
}

func TestIsBusyErr(t *testing.T) {
	if isBusyErr(nil) {
		t.Error("nil must not be busy")
	}
	if !isBusyErr(fmt.Errorf("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("SQLITE_BUSY error should be retryable")
	}
	if isBusyErr(fmt.Errorf("no such table: metrics_raw")) {
		t.Error("schema errors are not retryable")
	}
}
