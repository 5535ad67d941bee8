package main

import (
	"encoding/json"
	"time"
)

// onlineWindow is how long after its last sample a server still counts online
const onlineWindow = 30 * time.Second

// ============================================================================
// Snapshot Composer
// ============================================================================

// ComposeSnapshot joins config and live metrics into a serialized dashboard
// message. includeSettings adds site_settings for a subscriber's first frame.
// forceOffline marks one server offline regardless of its last sample age,
// used when its session is tearing down.
func (s *AppState) ComposeSnapshot(includeSettings bool, forceOffline string) string {
	s.ConfigMu.RLock()
	servers := make([]RemoteServer, len(s.Config.Servers))
	copy(servers, s.Config.Servers)
	var siteSettings *SiteSettings
	if includeSettings {
		ss := s.Config.SiteSettings
		siteSettings = &ss
	}
	s.ConfigMu.RUnlock()

	s.AgentMetricsMu.RLock()
	agentMetrics := make(map[string]*AgentMetricsData, len(s.AgentMetrics))
	for k, v := range s.AgentMetrics {
		agentMetrics[k] = v
	}
	s.AgentMetricsMu.RUnlock()

	// One clock reading so every server's online flag agrees
	now := time.Now()

	updates := make([]ServerMetricsUpdate, 0, len(servers))
	for _, server := range servers {
		metricsData := agentMetrics[server.ID]
		online := false
		var metrics *SystemMetrics
		version := server.Version

		if metricsData != nil {
			online = now.Sub(metricsData.LastUpdated) < onlineWindow
			metrics = &metricsData.Metrics
			if metricsData.Metrics.Version != "" {
				version = metricsData.Metrics.Version
			}
		}
		if server.ID == forceOffline {
			online = false
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

	msg := DashboardMessage{
		Type:         "metrics",
		Servers:      updates,
		SiteSettings: siteSettings,
	}

	data, _ := json.Marshal(msg)
	return string(data)
}

// ============================================================================
// Dashboard Fan-out
// ============================================================================

// BroadcastMetrics queues a snapshot for the dispatcher. Never blocks: when
// the queue is full the oldest snapshot is dropped, the newest state wins.
func (s *AppState) BroadcastMetrics(msg string) {
	select {
	case s.MetricsBroadcast <- msg:
	default:
		select {
		case <-s.MetricsBroadcast:
		default:
		}
		select {
		case s.MetricsBroadcast <- msg:
		default:
		}
	}
}

// RunBroadcastLoop moves snapshots from the central queue to every
// subscriber. Runs until Shutdown, then drains whatever is left queued.
func (s *AppState) RunBroadcastLoop() {
	for {
		select {
		case msg := <-s.MetricsBroadcast:
			s.deliverToSubscribers(msg)
		case <-s.shutdown:
			for {
				select {
				case msg := <-s.MetricsBroadcast:
					s.deliverToSubscribers(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *AppState) deliverToSubscribers(msg string) {
	s.DashboardMu.RLock()
	clients := make([]*DashboardClient, 0, len(s.DashboardClients))
	for _, client := range s.DashboardClients {
		if client != nil {
			clients = append(clients, client)
		}
	}
	s.DashboardMu.RUnlock()

	for _, client := range clients {
		deliverLossy(client.Send, msg)
	}
}

// deliverLossy enqueues without blocking. A full subscriber buffer loses its
// oldest entry, so a slow reader lags but never stalls the dispatcher.
func deliverLossy(ch chan string, msg string) {
	select {
	case ch <- msg:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

// ============================================================================
// Composer Tick
// ============================================================================

// RunSnapshotTicker re-broadcasts state every second while at least one agent
// is known, so dashboards see servers go stale without any frame arriving.
func (s *AppState) RunSnapshotTicker() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.AgentMetricsMu.RLock()
			active := len(s.AgentMetrics) > 0
			s.AgentMetricsMu.RUnlock()

			if active {
				s.BroadcastMetrics(s.ComposeSnapshot(false, ""))
			}
		case <-s.shutdown:
			return
		}
	}
}
