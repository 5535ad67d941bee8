package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ============================================================================
// Agent Registration Handler
// ============================================================================

func (s *AppState) RegisterAgent(c *gin.Context) {
	var req AgentRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	serverID := uuid.New().String()
	agentToken := uuid.New().String()

	server := RemoteServer{
		ID:       serverID,
		Name:     req.Name,
		Location: req.Location,
		Provider: req.Provider,
		Token:    agentToken,
	}

	s.ConfigMu.Lock()
	s.Config.Servers = append(s.Config.Servers, server)
	err := SaveConfigImmediate(s.Config)
	s.ConfigMu.Unlock()

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist server"})
		return
	}

	c.JSON(http.StatusOK, AgentRegisterResponse{
		ID:    serverID,
		Token: agentToken,
	})
}

// ============================================================================
// Installation Script Handlers
// ============================================================================

func (s *AppState) GetAgentScript(c *gin.Context) {
	// A script dropped into the web directory overrides the built-in one
	webDir := getWebDir()
	if webDir != "" {
		scriptPath := webDir + "/agent.sh"
		if data, err := os.ReadFile(scriptPath); err == nil {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.String(http.StatusOK, string(data))
			return
		}
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.String(http.StatusOK, embeddedAgentScript)
}

func (s *AppState) GetInstallCommand(c *gin.Context) {
	host := c.Request.Host
	protocol := "https"

	// Priority: X-Forwarded-Proto header > TLS detection > localhost fallback
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		// Trust the X-Forwarded-Proto header from nginx
		protocol = proto
	} else if c.Request.TLS != nil {
		// Direct TLS connection
		protocol = "https"
	} else if host == "localhost" || (len(host) >= 4 && host[:4] == "127.") || (len(host) >= 10 && host[:10] == "localhost:") {
		protocol = "http"
	}

	baseURL := fmt.Sprintf("%s://%s", protocol, host)

	authHeader := c.GetHeader("Authorization")
	token := ""
	if len(authHeader) > 7 {
		token = authHeader[7:]
	}

	command := fmt.Sprintf(
		`curl -fsSL %s/agent.sh | sudo bash -s -- --server %s --token "%s" --name "$(hostname)"`,
		baseURL, baseURL, token,
	)

	c.JSON(http.StatusOK, InstallCommand{
		Command:   command,
		ScriptURL: fmt.Sprintf("%s/agent.sh", baseURL),
	})
}

// ============================================================================
// Update Agent Handler
// ============================================================================

func (s *AppState) UpdateAgent(c *gin.Context) {
	serverID := c.Param("id")

	var req UpdateAgentRequest
	c.ShouldBindJSON(&req)

	s.AgentConnsMu.RLock()
	conn := s.AgentConns[serverID]
	s.AgentConnsMu.RUnlock()

	if conn == nil {
		c.JSON(http.StatusOK, UpdateAgentResponse{
			Success: false,
			Message: "Agent is not connected",
		})
		return
	}

	cmd := AgentCommand{
		Type:        "command",
		Command:     "update",
		DownloadURL: req.DownloadURL,
	}

	data, _ := json.Marshal(cmd)
	select {
	case conn.SendChan <- data:
		c.JSON(http.StatusOK, UpdateAgentResponse{
			Success: true,
			Message: "Update command sent to agent",
		})
	default:
		c.JSON(http.StatusOK, UpdateAgentResponse{
			Success: false,
			Message: "Failed to send update command",
		})
	}
}

// embeddedAgentScript is served from /agent.sh when the web directory does
// not provide its own copy. It downloads the agent binary, registers it
// against this hub, and installs it as a system service.
const embeddedAgentScript = `#!/bin/sh
# FleetPulse agent installer.
#
# Usage:
#   curl -fsSL https://<hub>/agent.sh | sudo bash -s -- \
#     --server https://<hub> --token <admin-jwt> [--name <server-name>]

set -e

SERVER_URL=""
TOKEN=""
NAME="$(hostname)"
BIN_DIR="/usr/local/bin"
DOWNLOAD_BASE="${FLEETPULSE_DOWNLOAD_BASE:-https://github.com/fleetpulse/fleetpulse/releases/latest/download}"

while [ $# -gt 0 ]; do
    case "$1" in
        --server) SERVER_URL="$2"; shift 2 ;;
        --token)  TOKEN="$2"; shift 2 ;;
        --name)   NAME="$2"; shift 2 ;;
        *) echo "Unknown option: $1" >&2; exit 1 ;;
    esac
done

if [ -z "$SERVER_URL" ] || [ -z "$TOKEN" ]; then
    echo "Usage: agent.sh --server <url> --token <token> [--name <name>]" >&2
    exit 1
fi

if [ "$(id -u)" != "0" ]; then
    echo "This installer must run as root (use sudo)." >&2
    exit 1
fi

OS="$(uname -s | tr '[:upper:]' '[:lower:]')"
case "$(uname -m)" in
    x86_64|amd64) ARCH="amd64" ;;
    aarch64|arm64) ARCH="arm64" ;;
    *) echo "Unsupported architecture: $(uname -m)" >&2; exit 1 ;;
esac

echo "Downloading fleetpulse-agent (${OS}/${ARCH})..."
curl -fsSL "${DOWNLOAD_BASE}/fleetpulse-agent-${OS}-${ARCH}" -o "${BIN_DIR}/fleetpulse-agent"
chmod 755 "${BIN_DIR}/fleetpulse-agent"

echo "Registering with ${SERVER_URL}..."
"${BIN_DIR}/fleetpulse-agent" register --server "$SERVER_URL" --token "$TOKEN" --name "$NAME"

echo "Installing service..."
"${BIN_DIR}/fleetpulse-agent" install
`
