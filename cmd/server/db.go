package main

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ============================================================================
// Serialized write worker
// ============================================================================

// DBWriter serializes all database write operations through a channel
type DBWriter struct {
	db      *sql.DB
	writeCh chan writeJob
	done    chan struct{}
	wg      sync.WaitGroup
}

type writeJob struct {
	fn     func(*sql.DB) error
	result chan error // nil for fire-and-forget
}

// Global DBWriter instance
var dbWriter *DBWriter

// NewDBWriter creates a new database writer with a buffered channel
func NewDBWriter(db *sql.DB, bufferSize int) *DBWriter {
	w := &DBWriter{
		db:      db,
		writeCh: make(chan writeJob, bufferSize),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processWrites()
	return w
}

// processWrites handles all write operations sequentially
func (w *DBWriter) processWrites() {
	defer w.wg.Done()
	for {
		select {
		case job := <-w.writeCh:
			err := job.fn(w.db)
			if job.result != nil {
				job.result <- err
			} else if err != nil {
				fmt.Printf("Database write error: %v\n", err)
			}
		case <-w.done:
			// Drain remaining jobs before exiting
			for {
				select {
				case job := <-w.writeCh:
					err := job.fn(w.db)
					if job.result != nil {
						job.result <- err
					}
				default:
					return
				}
			}
		}
	}
}

// WriteAsync queues a write operation (fire-and-forget)
func (w *DBWriter) WriteAsync(fn func(*sql.DB) error) {
	select {
	case w.writeCh <- writeJob{fn: fn, result: nil}:
	default:
		fmt.Println("Warning: write queue full, dropping write")
	}
}

// WriteSync queues a write operation and waits for result
func (w *DBWriter) WriteSync(fn func(*sql.DB) error) error {
	result := make(chan error, 1)
	w.writeCh <- writeJob{fn: fn, result: result}
	return <-result
}

// Close stops the writer and waits for pending writes
func (w *DBWriter) Close() {
	close(w.done)
	w.wg.Wait()
}

// GetDB returns the underlying database for read operations
func (w *DBWriter) GetDB() *sql.DB {
	return w.db
}

// ============================================================================
// Schema
// ============================================================================

func InitDatabase() (*sql.DB, error) {
	return InitDatabaseAt(GetDBPath())
}

func InitDatabaseAt(path string) (*sql.DB, error) {
	// Open database with busy_timeout as fallback
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrent read access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		fmt.Printf("Warning: Failed to enable WAL mode: %v\n", err)
	}

	// Set synchronous to NORMAL for better performance while still being safe
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		fmt.Printf("Warning: Failed to set synchronous mode: %v\n", err)
	}

	_, err = db.Exec(`
		-- Raw samples, one row per accepted metrics frame (kept 48 hours)
		CREATE TABLE IF NOT EXISTS metrics_raw (
			server_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			cpu REAL NOT NULL,
			memory REAL NOT NULL,
			disk REAL NOT NULL,
			net_rx INTEGER NOT NULL,
			net_tx INTEGER NOT NULL,
			ping_ms REAL,
			PRIMARY KEY (server_id, timestamp)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_metrics_raw_time ON metrics_raw(timestamp);

		-- Hourly rollups (kept 90 days)
		CREATE TABLE IF NOT EXISTS metrics_hourly (
			server_id TEXT NOT NULL,
			hour_start TEXT NOT NULL,
			cpu_avg REAL NOT NULL,
			memory_avg REAL NOT NULL,
			disk_avg REAL NOT NULL,
			net_rx_total INTEGER NOT NULL,
			net_tx_total INTEGER NOT NULL,
			ping_avg REAL,
			sample_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (server_id, hour_start)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_metrics_hourly_time ON metrics_hourly(hour_start);

		-- Daily rollups (kept 730 days)
		CREATE TABLE IF NOT EXISTS metrics_daily (
			server_id TEXT NOT NULL,
			date TEXT NOT NULL,
			cpu_avg REAL NOT NULL,
			memory_avg REAL NOT NULL,
			disk_avg REAL NOT NULL,
			net_rx_total INTEGER NOT NULL,
			net_tx_total INTEGER NOT NULL,
			ping_avg REAL,
			sample_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (server_id, date)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_metrics_daily_time ON metrics_daily(date);

		-- Per-target ping results (kept 48 hours, no rollups)
		CREATE TABLE IF NOT EXISTS ping_raw (
			server_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			target_name TEXT NOT NULL,
			target_host TEXT NOT NULL,
			latency_ms REAL,
			packet_loss REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ok',
			PRIMARY KEY (server_id, timestamp, target_name)
		) WITHOUT ROWID;

		CREATE INDEX IF NOT EXISTS idx_ping_raw_time ON ping_raw(timestamp);
		CREATE INDEX IF NOT EXISTS idx_ping_raw_target ON ping_raw(server_id, target_name, timestamp);
	`)
	if err != nil {
		return nil, err
	}

	// Run ANALYZE in background to avoid slow startup
	go func() {
		time.Sleep(10 * time.Second)
		db.Exec("ANALYZE")
	}()

	return db, nil
}

// ============================================================================
// Raw ingest
// ============================================================================

const (
	storeRetryAttempts = 3
	storeRetryBackoff  = 10 * time.Millisecond
)

// isBusyErr reports whether the engine rejected a statement because another
// connection held the lock. Only these errors are worth retrying.
func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func execWithRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		err = fn()
		if !isBusyErr(err) {
			return err
		}
		time.Sleep(storeRetryBackoff)
	}
	return err
}

// maxDiskUsage picks the highest usage percent across reported disks
func maxDiskUsage(metrics *SystemMetrics) float32 {
	var max float32
	for _, d := range metrics.Disks {
		if d.UsagePercent > max {
			max = d.UsagePercent
		}
	}
	return max
}

// avgPingLatency averages latency across targets that answered; nil when no
// target has a latency value
func avgPingLatency(metrics *SystemMetrics) *float64 {
	if metrics.Ping == nil {
		return nil
	}
	var sum float64
	var count int
	for _, t := range metrics.Ping.Targets {
		if t.LatencyMs != nil {
			sum += *t.LatencyMs
			count++
		}
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

// StoreMetricsAsync queues raw sample storage (fire-and-forget)
func StoreMetricsAsync(serverID string, metrics *SystemMetrics) {
	if dbWriter == nil {
		return
	}
	// Copy data to avoid race conditions
	m := *metrics
	sid := serverID
	dbWriter.WriteAsync(func(db *sql.DB) error {
		return storeMetricsInternal(db, sid, &m)
	})
}

// StoreMetrics stores a sample synchronously through the write worker
func StoreMetrics(serverID string, metrics *SystemMetrics) error {
	if dbWriter == nil {
		return fmt.Errorf("database writer not initialized")
	}
	m := *metrics
	sid := serverID
	return dbWriter.WriteSync(func(db *sql.DB) error {
		return storeMetricsInternal(db, sid, &m)
	})
}

func storeMetricsInternal(db *sql.DB, serverID string, metrics *SystemMetrics) error {
	ts := metrics.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	timestamp := ts.UTC().Format(time.RFC3339)
	pingMs := avgPingLatency(metrics)

	err := execWithRetry(func() error {
		_, err := db.Exec(`
			INSERT INTO metrics_raw (server_id, timestamp, cpu, memory, disk, net_rx, net_tx, ping_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id, timestamp) DO UPDATE SET
				cpu = excluded.cpu,
				memory = excluded.memory,
				disk = excluded.disk,
				net_rx = excluded.net_rx,
				net_tx = excluded.net_tx,
				ping_ms = excluded.ping_ms`,
			serverID, timestamp,
			metrics.CPU.Usage, metrics.Memory.UsagePercent, maxDiskUsage(metrics),
			int64(metrics.Network.TotalRx), int64(metrics.Network.TotalTx),
			pingMs,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("store raw sample for %s: %w", serverID, err)
	}

	if metrics.Ping != nil && len(metrics.Ping.Targets) > 0 {
		if err := storePingInternal(db, serverID, timestamp, metrics.Ping.Targets); err != nil {
			return err
		}
	}
	return nil
}

func storePingInternal(db *sql.DB, serverID, timestamp string, targets []PingTarget) error {
	return execWithRetry(func() error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`
			INSERT INTO ping_raw (server_id, timestamp, target_name, target_host, latency_ms, packet_loss, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(server_id, timestamp, target_name) DO UPDATE SET
				target_host = excluded.target_host,
				latency_ms = excluded.latency_ms,
				packet_loss = excluded.packet_loss,
				status = excluded.status`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, t := range targets {
			if _, err := stmt.Exec(serverID, timestamp, t.Name, t.Host, t.LatencyMs, t.PacketLoss, t.Status); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// ============================================================================
// Range queries
// ============================================================================

func GetHistory(db *sql.DB, serverID, rangeStr string) ([]HistoryPoint, error) {
	now := time.Now().UTC()
	switch rangeStr {
	case "1h":
		return queryRaw(db, serverID, now.Add(-time.Hour), false)
	case "24h":
		return queryRaw(db, serverID, now.Add(-24*time.Hour), true)
	case "7d":
		return queryHourly(db, serverID, now.Add(-7*24*time.Hour))
	case "30d":
		return queryDaily(db, serverID, now.AddDate(0, 0, -30))
	default:
		// "1y" and anything unrecognized
		return queryDaily(db, serverID, now.AddDate(0, 0, -365))
	}
}

// queryRaw returns raw points since the cutoff. With decimate set, only rows
// whose second-of-epoch falls in the first minute of each 5-minute window
// pass, thinning 24h of data to roughly one point per 5 minutes.
func queryRaw(db *sql.DB, serverID string, since time.Time, decimate bool) ([]HistoryPoint, error) {
	query := `
		SELECT timestamp, cpu, memory, disk, net_rx, net_tx, ping_ms
		FROM metrics_raw
		WHERE server_id = ? AND timestamp >= ?`
	if decimate {
		query += ` AND (CAST(strftime('%s', timestamp) AS INTEGER) % 300) < 60`
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := db.Query(query, serverID, since.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

func queryHourly(db *sql.DB, serverID string, since time.Time) ([]HistoryPoint, error) {
	rows, err := db.Query(`
		SELECT hour_start, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg
		FROM metrics_hourly
		WHERE server_id = ? AND hour_start >= ?
		ORDER BY hour_start ASC`,
		serverID, since.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

func queryDaily(db *sql.DB, serverID string, since time.Time) ([]HistoryPoint, error) {
	rows, err := db.Query(`
		SELECT date, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg
		FROM metrics_daily
		WHERE server_id = ? AND date >= ?
		ORDER BY date ASC`,
		serverID, since.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanHistoryRows(rows)
}

func scanHistoryRows(rows *sql.Rows) ([]HistoryPoint, error) {
	data := []HistoryPoint{}
	for rows.Next() {
		var point HistoryPoint
		var ping sql.NullFloat64
		if err := rows.Scan(&point.Timestamp, &point.CPU, &point.Memory, &point.Disk, &point.NetRx, &point.NetTx, &ping); err != nil {
			return nil, err
		}
		if ping.Valid {
			v := ping.Float64
			point.PingMs = &v
		}
		data = append(data, point)
	}
	return data, rows.Err()
}

// GetPingHistory returns per-target ping series for the raw-backed ranges.
// Longer ranges have no ping rollups and return nothing.
func GetPingHistory(db *sql.DB, serverID, rangeStr string) ([]PingHistoryTarget, error) {
	now := time.Now().UTC()
	var since time.Time
	decimate := false
	switch rangeStr {
	case "1h":
		since = now.Add(-time.Hour)
	case "24h":
		since = now.Add(-24 * time.Hour)
		decimate = true
	default:
		return nil, nil
	}

	query := `
		SELECT target_name, target_host, timestamp, latency_ms, status
		FROM ping_raw
		WHERE server_id = ? AND timestamp >= ?`
	if decimate {
		query += ` AND (CAST(strftime('%s', timestamp) AS INTEGER) % 300) < 60`
	}
	query += ` ORDER BY target_name ASC, timestamp ASC`

	rows, err := db.Query(query, serverID, since.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []PingHistoryTarget
	for rows.Next() {
		var name, host, timestamp, status string
		var latency sql.NullFloat64
		if err := rows.Scan(&name, &host, &timestamp, &latency, &status); err != nil {
			return nil, err
		}
		if len(targets) == 0 || targets[len(targets)-1].Name != name {
			targets = append(targets, PingHistoryTarget{Name: name, Host: host})
		}
		point := PingHistoryPoint{Timestamp: timestamp, Status: status}
		if latency.Valid {
			v := latency.Float64
			point.LatencyMs = &v
		}
		last := &targets[len(targets)-1]
		last.Data = append(last.Data, point)
	}
	return targets, rows.Err()
}

// ============================================================================
// Aggregation and retention
// ============================================================================

const (
	rawRetention    = 48 * time.Hour
	hourlyRetention = 90 * 24 * time.Hour
	dailyRetention  = 730 * 24 * time.Hour
)

// aggMu keeps rollup and cleanup single-flight; a tick that finds the lock
// held skips its run instead of queueing behind it.
var aggMu sync.Mutex

// RunAggregation rolls raw rows into hourly buckets, hourly into daily, then
// applies retention. Buckets are replaced by upsert, so repeat runs over the
// same period settle on identical rows.
func RunAggregation(now time.Time) {
	if !aggMu.TryLock() {
		return
	}
	defer aggMu.Unlock()

	if dbWriter == nil {
		return
	}

	err := dbWriter.WriteSync(func(db *sql.DB) error {
		if err := AggregateHourly(db, now); err != nil {
			return fmt.Errorf("hourly rollup: %w", err)
		}
		if err := AggregateDaily(db, now); err != nil {
			return fmt.Errorf("daily rollup: %w", err)
		}
		return CleanupOldData(db, now)
	})
	if err != nil {
		fmt.Printf("⚠️  Aggregation run failed: %v\n", err)
	}
}

// AggregateHourly rolls up every completed hour still present in metrics_raw.
// Raw retention is short, so re-covering all of it each run stays cheap and
// heals gaps left by downtime.
func AggregateHourly(db *sql.DB, now time.Time) error {
	currentHour := now.UTC().Truncate(time.Hour).Format(time.RFC3339)

	return execWithRetry(func() error {
		_, err := db.Exec(`
			INSERT INTO metrics_hourly (server_id, hour_start, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			SELECT server_id,
				strftime('%Y-%m-%dT%H:00:00Z', timestamp) AS bucket,
				AVG(cpu), AVG(memory), AVG(disk),
				MAX(net_rx) - MIN(net_rx), MAX(net_tx) - MIN(net_tx),
				AVG(ping_ms), COUNT(*)
			FROM metrics_raw
			WHERE timestamp < ?
			GROUP BY server_id, bucket
			ON CONFLICT(server_id, hour_start) DO UPDATE SET
				cpu_avg = excluded.cpu_avg,
				memory_avg = excluded.memory_avg,
				disk_avg = excluded.disk_avg,
				net_rx_total = excluded.net_rx_total,
				net_tx_total = excluded.net_tx_total,
				ping_avg = excluded.ping_avg,
				sample_count = excluded.sample_count`,
			currentHour)
		return err
	})
}

// AggregateDaily builds daily rows from completed days of hourly rollups,
// weighting averages by each hour's sample count. Days with raw rows but no
// hourly coverage fall back to raw without touching hourly-derived rows.
func AggregateDaily(db *sql.DB, now time.Time) error {
	dayStart := now.UTC().Truncate(24 * time.Hour)

	err := execWithRetry(func() error {
		_, err := db.Exec(`
			INSERT INTO metrics_daily (server_id, date, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			SELECT server_id,
				date(hour_start) AS bucket,
				SUM(cpu_avg * sample_count) / SUM(sample_count),
				SUM(memory_avg * sample_count) / SUM(sample_count),
				SUM(disk_avg * sample_count) / SUM(sample_count),
				SUM(net_rx_total), SUM(net_tx_total),
				AVG(ping_avg), SUM(sample_count)
			FROM metrics_hourly
			WHERE hour_start < ? AND sample_count > 0
			GROUP BY server_id, bucket
			ON CONFLICT(server_id, date) DO UPDATE SET
				cpu_avg = excluded.cpu_avg,
				memory_avg = excluded.memory_avg,
				disk_avg = excluded.disk_avg,
				net_rx_total = excluded.net_rx_total,
				net_tx_total = excluded.net_tx_total,
				ping_avg = excluded.ping_avg,
				sample_count = excluded.sample_count`,
			dayStart.Format(time.RFC3339))
		return err
	})
	if err != nil {
		return err
	}

	return execWithRetry(func() error {
		_, err := db.Exec(`
			INSERT INTO metrics_daily (server_id, date, cpu_avg, memory_avg, disk_avg, net_rx_total, net_tx_total, ping_avg, sample_count)
			SELECT server_id,
				date(timestamp) AS bucket,
				AVG(cpu), AVG(memory), AVG(disk),
				MAX(net_rx) - MIN(net_rx), MAX(net_tx) - MIN(net_tx),
				AVG(ping_ms), COUNT(*)
			FROM metrics_raw
			WHERE date(timestamp) < ?
			GROUP BY server_id, bucket
			ON CONFLICT(server_id, date) DO NOTHING`,
			dayStart.Format("2006-01-02"))
		return err
	})
}

func CleanupOldData(db *sql.DB, now time.Time) error {
	rawCutoff := now.UTC().Add(-rawRetention).Format(time.RFC3339)
	hourlyCutoff := now.UTC().Add(-hourlyRetention).Format(time.RFC3339)
	dailyCutoff := now.UTC().Add(-dailyRetention).Format("2006-01-02")

	return execWithRetry(func() error {
		if _, err := db.Exec("DELETE FROM metrics_raw WHERE timestamp < ?", rawCutoff); err != nil {
			return err
		}
		if _, err := db.Exec("DELETE FROM ping_raw WHERE timestamp < ?", rawCutoff); err != nil {
			return err
		}
		if _, err := db.Exec("DELETE FROM metrics_hourly WHERE hour_start < ?", hourlyCutoff); err != nil {
			return err
		}
		_, err := db.Exec("DELETE FROM metrics_daily WHERE date < ?", dailyCutoff)
		return err
	})
}

// StartAggregationLoop fires RunAggregation at every wall-clock hour boundary
// until the stop channel closes. The first run waits for the next boundary
// rather than firing immediately, so restarts don't hammer the store.
func StartAggregationLoop(stop <-chan struct{}) {
	go func() {
		for {
			now := time.Now()
			next := now.Truncate(time.Hour).Add(time.Hour)
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-timer.C:
				RunAggregation(time.Now())
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()
}
