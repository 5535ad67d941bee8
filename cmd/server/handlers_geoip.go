package main

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// GeoIP API Handlers
// ============================================================================

// GetGeoIPConfig returns the current GeoIP configuration
func (s *AppState) GetGeoIPConfig(c *gin.Context) {
	s.ConfigMu.RLock()
	config := s.Config.GeoIPConfig
	s.ConfigMu.RUnlock()

	if config == nil {
		config = &GeoIPConfig{Provider: "auto"}
	}

	c.JSON(http.StatusOK, gin.H{
		"provider":     config.Provider,
		"mmdb_path":    config.MMDBPath,
		"ipinfo_token": maskToken(config.IPInfoToken),
		"mmdb_loaded":  GetGeoIPService().IsMMDBLoaded(),
	})
}

// UpdateGeoIPConfig updates the GeoIP configuration and reinitializes the
// lookup service with it
func (s *AppState) UpdateGeoIPConfig(c *gin.Context) {
	var req struct {
		Provider    string `json:"provider"`
		MMDBPath    string `json:"mmdb_path"`
		IPInfoToken string `json:"ipinfo_token"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	validProviders := map[string]bool{"auto": true, "mmdb": true, "ip-api": true, "ipinfo": true}
	if !validProviders[req.Provider] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid provider. Must be: auto, mmdb, ip-api, or ipinfo"})
		return
	}

	s.ConfigMu.RLock()
	current := s.Config.GeoIPConfig
	s.ConfigMu.RUnlock()

	newConfig := &GeoIPConfig{
		Provider: req.Provider,
		MMDBPath: req.MMDBPath,
	}

	// Only replace the token when the client sent a new one, not the mask
	if current != nil && (req.IPInfoToken == "" || req.IPInfoToken == maskToken(current.IPInfoToken)) {
		newConfig.IPInfoToken = current.IPInfoToken
	} else {
		newConfig.IPInfoToken = req.IPInfoToken
	}

	service := GetGeoIPService()
	if err := service.Initialize(newConfig); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to apply config: %v", err)})
		return
	}

	s.ConfigMu.Lock()
	s.Config.GeoIPConfig = newConfig
	SaveConfig(s.Config)
	s.ConfigMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"mmdb_loaded": service.IsMMDBLoaded(),
	})
}

// LookupGeoIP performs a GeoIP lookup for a single IP
func (s *AppState) LookupGeoIP(c *gin.Context) {
	ip := c.Query("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IP address required"})
		return
	}

	result, err := GetGeoIPService().Lookup(ip)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Lookup failed: %v", err)})
		return
	}

	c.JSON(http.StatusOK, result)
}

// RefreshServerGeoIP queues a re-resolve for every server with a known IP.
// Enrichment runs in the background; results land on the server records as
// lookups complete.
func (s *AppState) RefreshServerGeoIP(c *gin.Context) {
	queued := RefreshAllServerGeoIP(s)

	s.ConfigMu.RLock()
	total := len(s.Config.Servers)
	s.ConfigMu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"queued":  queued,
		"total":   total,
	})
}

// ClearGeoIPCache clears the GeoIP lookup cache
func (s *AppState) ClearGeoIPCache(c *gin.Context) {
	GetGeoIPService().ClearCache()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetServerGeoIP returns GeoIP data for a specific server
func (s *AppState) GetServerGeoIP(c *gin.Context) {
	serverID := c.Param("id")

	s.ConfigMu.RLock()
	defer s.ConfigMu.RUnlock()

	for _, server := range s.Config.Servers {
		if server.ID == serverID {
			flag := ""
			if server.GeoIP != nil {
				flag = CountryCodeToFlag(server.GeoIP.CountryCode)
			}
			c.JSON(http.StatusOK, gin.H{
				"server_id":   server.ID,
				"server_name": server.Name,
				"ip":          server.IP,
				"location":    server.Location,
				"geoip":       server.GeoIP,
				"flag":        flag,
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
}

// ============================================================================
// Helper Functions
// ============================================================================

// maskToken masks a token for display (show first 4 and last 4 chars)
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
