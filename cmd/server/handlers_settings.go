package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetpulse/internal/common"
)

// ============================================================================
// Site Settings Handlers
// ============================================================================

func (s *AppState) GetSiteSettings(c *gin.Context) {
	s.ConfigMu.RLock()
	defer s.ConfigMu.RUnlock()
	c.JSON(http.StatusOK, s.Config.SiteSettings)
}

func (s *AppState) UpdateSiteSettings(c *gin.Context) {
	var settings SiteSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.Lock()
	s.Config.SiteSettings = settings
	SaveConfig(s.Config)
	s.ConfigMu.Unlock()

	// Broadcast the updated settings to all connected dashboard clients
	s.BroadcastSiteSettings(&settings)

	c.Status(http.StatusOK)
}

// BroadcastSiteSettings pushes updated site settings to every dashboard
// subscriber through its send queue, so the frame never races the
// per-client writer.
func (s *AppState) BroadcastSiteSettings(settings *SiteSettings) {
	msg := map[string]interface{}{
		"type":          "site_settings",
		"site_settings": settings,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal site settings: %v", err)
		return
	}

	s.DashboardMu.RLock()
	clients := make([]*DashboardClient, 0, len(s.DashboardClients))
	for _, client := range s.DashboardClients {
		if client != nil {
			clients = append(clients, client)
		}
	}
	s.DashboardMu.RUnlock()

	for _, client := range clients {
		deliverLossy(client.Send, string(data))
	}
}

// ============================================================================
// Probe Settings Handlers
// ============================================================================

func (s *AppState) GetProbeSettings(c *gin.Context) {
	s.ConfigMu.RLock()
	defer s.ConfigMu.RUnlock()
	c.JSON(http.StatusOK, s.Config.ProbeSettings)
}

func (s *AppState) UpdateProbeSettings(c *gin.Context) {
	var settings ProbeSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.Lock()
	s.Config.ProbeSettings = settings
	SaveConfig(s.Config)
	s.ConfigMu.Unlock()

	// Broadcast new ping targets to all connected agents
	s.BroadcastPingTargets(settings.PingTargets)

	c.Status(http.StatusOK)
}

// BroadcastPingTargets sends updated ping targets to all connected agents
func (s *AppState) BroadcastPingTargets(targets []common.PingTargetConfig) {
	msg := map[string]interface{}{
		"type":         "config",
		"ping_targets": targets,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal ping targets: %v", err)
		return
	}

	s.AgentConnsMu.RLock()
	defer s.AgentConnsMu.RUnlock()

	for serverID, conn := range s.AgentConns {
		select {
		case conn.SendChan <- data:
			log.Printf("Sent ping targets update to agent %s", serverID)
		default:
			log.Printf("Failed to send ping targets to agent %s (channel full)", serverID)
		}
	}
}

// ============================================================================
// Local Node Settings Handlers
// ============================================================================

func (s *AppState) GetLocalNodeConfig(c *gin.Context) {
	s.ConfigMu.RLock()
	defer s.ConfigMu.RUnlock()
	c.JSON(http.StatusOK, s.Config.LocalNode)
}

func (s *AppState) UpdateLocalNodeConfig(c *gin.Context) {
	var node LocalNodeConfig
	if err := c.ShouldBindJSON(&node); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.Lock()
	s.Config.LocalNode = node
	SaveConfig(s.Config)
	s.ConfigMu.Unlock()

	c.Status(http.StatusOK)
}
