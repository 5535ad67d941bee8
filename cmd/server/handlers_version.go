package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ============================================================================
// Version Handlers
// ============================================================================

type ServerVersionInfo struct {
	Version string `json:"version"`
	Channel string `json:"channel"` // "stable" or "nightly"
}

func GetServerVersion(c *gin.Context) {
	channel := "stable"
	if strings.Contains(ServerVersion, "nightly") {
		channel = "nightly"
	}
	c.JSON(http.StatusOK, ServerVersionInfo{
		Version: ServerVersion,
		Channel: channel,
	})
}
