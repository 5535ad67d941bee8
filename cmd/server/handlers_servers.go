package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ============================================================================
// Server Management Handlers
// ============================================================================

func (s *AppState) GetServers(c *gin.Context) {
	s.ConfigMu.RLock()
	defer s.ConfigMu.RUnlock()
	c.JSON(http.StatusOK, s.Config.Servers)
}

func (s *AppState) AddServer(c *gin.Context) {
	var req AddServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	server := RemoteServer{
		ID:       uuid.New().String(),
		Name:     req.Name,
		Location: req.Location,
		Provider: req.Provider,
		Tag:      req.Tag,
		Token:    uuid.New().String(),
	}

	s.ConfigMu.Lock()
	s.Config.Servers = append(s.Config.Servers, server)
	err := SaveConfigImmediate(s.Config)
	s.ConfigMu.Unlock()

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist server"})
		return
	}

	c.JSON(http.StatusOK, server)
}

func (s *AppState) UpdateServer(c *gin.Context) {
	id := c.Param("id")

	var req UpdateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	s.ConfigMu.Lock()
	defer s.ConfigMu.Unlock()

	var updated *RemoteServer
	for i := range s.Config.Servers {
		if s.Config.Servers[i].ID == id {
			if req.Name != nil {
				s.Config.Servers[i].Name = *req.Name
			}
			if req.Location != nil {
				s.Config.Servers[i].Location = *req.Location
			}
			if req.Provider != nil {
				s.Config.Servers[i].Provider = *req.Provider
			}
			if req.Tag != nil {
				s.Config.Servers[i].Tag = *req.Tag
			}
			updated = &s.Config.Servers[i]
			break
		}
	}

	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Server not found"})
		return
	}

	if err := SaveConfigImmediate(s.Config); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist server"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *AppState) DeleteServer(c *gin.Context) {
	id := c.Param("id")

	s.ConfigMu.Lock()
	servers := make([]RemoteServer, 0, len(s.Config.Servers))
	for _, srv := range s.Config.Servers {
		if srv.ID != id {
			servers = append(servers, srv)
		}
	}
	s.Config.Servers = servers
	err := SaveConfigImmediate(s.Config)
	s.ConfigMu.Unlock()

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist server"})
		return
	}

	// Drop the live session, last sample, and cached history for the server
	s.AgentConnsMu.Lock()
	if conn, ok := s.AgentConns[id]; ok {
		delete(s.AgentConns, id)
		conn.Conn.Close()
	}
	s.AgentConnsMu.Unlock()

	s.AgentMetricsMu.Lock()
	delete(s.AgentMetrics, id)
	s.AgentMetricsMu.Unlock()

	if historyCache != nil {
		historyCache.InvalidateServer(id)
	}

	c.Status(http.StatusOK)
}
