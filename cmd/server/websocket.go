package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// agentAuthTimeout is how long a fresh agent connection has to present a
	// valid auth frame before the hub hangs up.
	agentAuthTimeout = 10 * time.Second
	// livenessPingInterval drives server pings on both socket kinds. An agent
	// that misses two in a row is considered dead.
	livenessPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ============================================================================
// Dashboard WebSocket Handler
// ============================================================================

func (s *AppState) HandleDashboardWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	client := &DashboardClient{
		Conn: conn,
		IP:   c.ClientIP(),
		Send: make(chan string, 16),
	}

	// Queue the initial snapshot before registering so it always precedes
	// broadcast frames.
	client.Send <- s.ComposeSnapshot(true, "")

	s.DashboardMu.Lock()
	s.DashboardClients[conn] = client
	s.DashboardMu.Unlock()

	done := make(chan struct{})

	defer func() {
		s.DashboardMu.Lock()
		delete(s.DashboardClients, conn)
		s.DashboardMu.Unlock()
		close(done)
	}()

	// Writer goroutine owns the connection for writes
	go func() {
		ticker := time.NewTicker(s.pingInterval())
		defer ticker.Stop()

		for {
			select {
			case msg := <-client.Send:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Dashboards send nothing the hub acts on; read until the peer goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// ============================================================================
// Agent WebSocket Handler
// ============================================================================

func (s *AppState) HandleAgentWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	var authenticatedServerID string

	// Command inbox for this session. The writer goroutine below is the only
	// writer on the connection once authentication succeeds.
	sendChan := make(chan []byte, 16)
	done := make(chan struct{})

	startWriter := func() {
		go func() {
			ticker := time.NewTicker(s.pingInterval())
			defer ticker.Stop()

			for {
				select {
				case msg := <-sendChan:
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						log.Printf("Failed to send message to agent: %v", err)
						return
					}
				case <-ticker.C:
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()
	}

	// One window to authenticate; afterwards two missed pings end the session
	conn.SetReadDeadline(time.Now().Add(s.authTimeout()))
	conn.SetPongHandler(func(string) error {
		if authenticatedServerID != "" {
			conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval()))
		}
		return nil
	})

readLoop:
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if authenticatedServerID != "" {
			conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval()))
		}

		var agentMsg AgentMessage
		if err := json.Unmarshal(message, &agentMsg); err != nil {
			continue
		}

		switch agentMsg.Type {
		case "auth":
			if authenticatedServerID != "" {
				continue
			}
			if agentMsg.ServerID == "" || agentMsg.Token == "" {
				continue
			}

			s.ConfigMu.Lock()
			found, ok := s.Config.VerifyAgentToken(agentMsg.ServerID, agentMsg.Token)
			if !ok {
				s.ConfigMu.Unlock()
				if found {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","status":"error","message":"Invalid token"}`))
				} else {
					conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"auth","status":"error","message":"Server not found"}`))
				}
				break readLoop
			}

			authenticatedServerID = agentMsg.ServerID
			conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval()))

			if agentMsg.Version != "" {
				for i := range s.Config.Servers {
					if s.Config.Servers[i].ID == agentMsg.ServerID {
						if s.Config.Servers[i].Version != agentMsg.Version {
							s.Config.Servers[i].Version = agentMsg.Version
							SaveConfig(s.Config)
						}
						break
					}
				}
			}

			response := map[string]interface{}{
				"type":   "auth",
				"status": "ok",
			}
			if len(s.Config.ProbeSettings.PingTargets) > 0 {
				response["ping_targets"] = s.Config.ProbeSettings.PingTargets
			}
			s.ConfigMu.Unlock()

			// A fresh session replaces any previous sink for this server
			s.AgentConnsMu.Lock()
			s.AgentConns[agentMsg.ServerID] = &AgentConnection{
				Conn:     conn,
				SendChan: sendChan,
			}
			s.AgentConnsMu.Unlock()

			data, _ := json.Marshal(response)
			conn.WriteMessage(websocket.TextMessage, data)
			startWriter()
			log.Printf("Agent %s authenticated", agentMsg.ServerID)

		case "metrics":
			if authenticatedServerID == "" {
				conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"Not authenticated"}`))
				continue
			}
			if agentMsg.Metrics == nil {
				continue
			}

			// Persist first; a store failure is logged by the writer and the
			// frame still updates live state
			StoreMetricsAsync(authenticatedServerID, agentMsg.Metrics)

			// Agent-reported address wins over the socket peer
			agentIP := clientIP
			if len(agentMsg.Metrics.IPAddresses) > 0 {
				agentIP = agentMsg.Metrics.IPAddresses[0]
			}

			s.ConfigMu.Lock()
			for i := range s.Config.Servers {
				if s.Config.Servers[i].ID == authenticatedServerID {
					changed := false
					if agentMsg.Metrics.Version != "" && s.Config.Servers[i].Version != agentMsg.Metrics.Version {
						s.Config.Servers[i].Version = agentMsg.Metrics.Version
						changed = true
					}
					if s.Config.Servers[i].IP != agentIP {
						s.Config.Servers[i].IP = agentIP
						changed = true
						EnrichServerGeoIP(s, authenticatedServerID, agentIP)
					}
					if changed {
						SaveConfig(s.Config)
					}
					break
				}
			}
			s.ConfigMu.Unlock()

			s.AgentMetricsMu.Lock()
			s.AgentMetrics[authenticatedServerID] = &AgentMetricsData{
				ServerID:    authenticatedServerID,
				Metrics:     *agentMsg.Metrics,
				LastUpdated: time.Now(),
			}
			s.AgentMetricsMu.Unlock()

			s.BroadcastMetrics(s.ComposeSnapshot(false, ""))

		default:
			log.Printf("Ignoring unknown frame type %q from agent", agentMsg.Type)
		}
	}

	// Cleanup on disconnect
	close(done)
	if authenticatedServerID != "" {
		// Only remove the sink if it is still ours; a newer session for the
		// same server may have replaced it
		s.AgentConnsMu.Lock()
		if cur, ok := s.AgentConns[authenticatedServerID]; ok && cur.Conn == conn {
			delete(s.AgentConns, authenticatedServerID)
		}
		s.AgentConnsMu.Unlock()

		log.Printf("Agent %s disconnected", authenticatedServerID)
		s.BroadcastMetrics(s.ComposeSnapshot(false, authenticatedServerID))
	}
}
