package main

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// Metrics Handlers
// ============================================================================

func (s *AppState) GetAllMetrics(c *gin.Context) {
	s.ConfigMu.RLock()
	servers := make([]RemoteServer, len(s.Config.Servers))
	copy(servers, s.Config.Servers)
	s.ConfigMu.RUnlock()

	s.AgentMetricsMu.RLock()
	defer s.AgentMetricsMu.RUnlock()

	// One clock reading so every online flag agrees
	now := time.Now()

	updates := make([]ServerMetricsUpdate, 0, len(servers))
	for _, server := range servers {
		metricsData := s.AgentMetrics[server.ID]
		online := false
		if metricsData != nil {
			online = now.Sub(metricsData.LastUpdated) < onlineWindow
		}

		version := server.Version
		if metricsData != nil && metricsData.Metrics.Version != "" {
			version = metricsData.Metrics.Version
		}

		var metrics *SystemMetrics
		if metricsData != nil {
			metrics = &metricsData.Metrics
		}

		updates = append(updates, ServerMetricsUpdate{
			ServerID:   server.ID,
			ServerName: server.Name,
			Location:   server.Location,
			Provider:   server.Provider,
			Tag:        server.Tag,
			Version:    version,
			IP:         server.IP,
			Online:     online,
			Metrics:    metrics,
			GeoIP:      server.GeoIP,
		})
	}

	c.JSON(http.StatusOK, updates)
}

// ============================================================================
// History Handler
// ============================================================================

func (s *AppState) GetHistory(c *gin.Context, db *sql.DB) {
	serverID := c.Param("server_id")
	rangeStr := c.DefaultQuery("range", "24h")

	// Short ranges are queried on every dashboard chart open; cache them
	useCache := (rangeStr == "1h" || rangeStr == "24h") && historyCache != nil

	if useCache {
		if cached, ok := historyCache.Get(serverID, rangeStr); ok {
			c.JSON(http.StatusOK, HistoryResponse{
				ServerID:    serverID,
				Range:       rangeStr,
				Data:        cached.Data,
				PingTargets: cached.PingTargets,
			})
			return
		}
	}

	var data []HistoryPoint
	var pingTargets []PingHistoryTarget
	var metricsErr error

	if rangeStr == "1h" || rangeStr == "24h" {
		// Metrics and ping series hit different tables; query them in parallel
		var wg sync.WaitGroup
		wg.Add(2)

		go func() {
			defer wg.Done()
			data, metricsErr = GetHistory(db, serverID, rangeStr)
		}()

		go func() {
			defer wg.Done()
			pingTargets, _ = GetPingHistory(db, serverID, rangeStr)
		}()

		wg.Wait()
	} else {
		data, metricsErr = GetHistory(db, serverID, rangeStr)
	}

	if metricsErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch history"})
		return
	}

	if useCache {
		historyCache.Set(serverID, rangeStr, data, pingTargets)
	}

	c.JSON(http.StatusOK, HistoryResponse{
		ServerID:    serverID,
		Range:       rangeStr,
		Data:        data,
		PingTargets: pingTargets,
	})
}

// ============================================================================
// Health Check
// ============================================================================

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// ============================================================================
// Online Users Handler
// ============================================================================

type OnlineUsersResponse struct {
	Count int `json:"count"`
}

func (s *AppState) GetOnlineUsers(c *gin.Context) {
	count := s.GetOnlineUsersCount()
	c.JSON(http.StatusOK, OnlineUsersResponse{Count: count})
}
