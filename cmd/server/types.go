package main

import (
	"database/sql"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleetpulse/internal/common"
)

// Re-export common types for convenience
type SystemMetrics = common.SystemMetrics
type OsInfo = common.OsInfo
type CpuMetrics = common.CpuMetrics
type MemoryMetrics = common.MemoryMetrics
type DiskMetrics = common.DiskMetrics
type NetworkMetrics = common.NetworkMetrics
type NetworkInterface = common.NetworkInterface
type LoadAverage = common.LoadAverage
type PingMetrics = common.PingMetrics
type PingTarget = common.PingTarget
type PingTargetConfig = common.PingTargetConfig

// ============================================================================
// Auth Types
// ============================================================================

type Claims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
}

type LoginRequest struct {
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ============================================================================
// Server Management Types
// ============================================================================

type AddServerRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Provider string `json:"provider"`
	Tag      string `json:"tag"`
}

type UpdateServerRequest struct {
	Name     *string `json:"name,omitempty"`
	Location *string `json:"location,omitempty"`
	Provider *string `json:"provider,omitempty"`
	Tag      *string `json:"tag,omitempty"`
}

// Re-export common registration types
type AgentRegisterRequest = common.RegisterRequest
type AgentRegisterResponse = common.RegisterResponse

// ============================================================================
// History Types
// ============================================================================

type HistoryPoint struct {
	Timestamp string   `json:"timestamp"`
	CPU       float32  `json:"cpu"`
	Memory    float32  `json:"memory"`
	Disk      float32  `json:"disk"`
	NetRx     int64    `json:"net_rx"`
	NetTx     int64    `json:"net_tx"`
	PingMs    *float64 `json:"ping_ms,omitempty"`
}

type HistoryResponse struct {
	ServerID    string              `json:"server_id"`
	Range       string              `json:"range"`
	Data        []HistoryPoint      `json:"data"`
	PingTargets []PingHistoryTarget `json:"ping_targets,omitempty"`
}

type PingHistoryTarget struct {
	Name string             `json:"name"`
	Host string             `json:"host"`
	Data []PingHistoryPoint `json:"data"`
}

type PingHistoryPoint struct {
	Timestamp string   `json:"timestamp"`
	LatencyMs *float64 `json:"latency_ms"`
	Status    string   `json:"status"`
}

// ============================================================================
// WebSocket Message Types
// ============================================================================

type AgentMetricsData struct {
	ServerID    string
	Metrics     SystemMetrics
	LastUpdated time.Time
}

type DashboardMessage struct {
	Type         string                `json:"type"`
	Servers      []ServerMetricsUpdate `json:"servers"`
	SiteSettings *SiteSettings         `json:"site_settings,omitempty"`
}

type ServerMetricsUpdate struct {
	ServerID   string         `json:"server_id"`
	ServerName string         `json:"server_name"`
	Location   string         `json:"location"`
	Provider   string         `json:"provider"`
	Tag        string         `json:"tag"`
	Version    string         `json:"version"`
	IP         string         `json:"ip"`
	Online     bool           `json:"online"`
	Metrics    *SystemMetrics `json:"metrics"`
	GeoIP      *ServerGeoIP   `json:"geoip,omitempty"`
}

// AgentMessage is the inbound frame union; Type selects which fields matter.
type AgentMessage struct {
	Type     string         `json:"type"`
	ServerID string         `json:"server_id,omitempty"`
	Token    string         `json:"token,omitempty"`
	Version  string         `json:"version,omitempty"`
	Metrics  *SystemMetrics `json:"metrics,omitempty"`
}

// AgentCommand is the hub-to-agent control frame. DownloadURL deliberately
// has no omitempty: agents distinguish "use the default source" (null) from
// an explicit URL.
type AgentCommand struct {
	Type        string  `json:"type"`
	Command     string  `json:"command"`
	DownloadURL *string `json:"download_url"`
}

type UpdateAgentRequest struct {
	DownloadURL *string `json:"download_url,omitempty"`
}

type UpdateAgentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type InstallCommand struct {
	Command   string `json:"command"`
	ScriptURL string `json:"script_url"`
}

// ============================================================================
// App State
// ============================================================================

// AgentConnection is the per-session command sink. SendChan doubles as the
// bounded command inbox; the session writer goroutine is its only consumer.
type AgentConnection struct {
	Conn     *websocket.Conn
	SendChan chan []byte
}

// DashboardClient is one browser subscription. Send is the per-subscriber
// bounded queue: when it fills, the oldest queued frame is dropped for this
// client only, never blocking the composer.
type DashboardClient struct {
	Conn *websocket.Conn
	IP   string
	Send chan string
}

type AppState struct {
	Config           *AppConfig
	ConfigMu         sync.RWMutex
	MetricsBroadcast chan string
	AgentMetrics     map[string]*AgentMetricsData
	AgentMetricsMu   sync.RWMutex
	AgentConns       map[string]*AgentConnection
	AgentConnsMu     sync.RWMutex
	DashboardClients map[*websocket.Conn]*DashboardClient
	DashboardMu      sync.RWMutex
	DB               *sql.DB

	// Zero means the package defaults; session tests shorten these.
	AuthTimeout  time.Duration
	PingInterval time.Duration

	shutdown chan struct{}
	once     sync.Once
}

func NewAppState(config *AppConfig, db *sql.DB) *AppState {
	return &AppState{
		Config:           config,
		MetricsBroadcast: make(chan string, 16),
		AgentMetrics:     make(map[string]*AgentMetricsData),
		AgentConns:       make(map[string]*AgentConnection),
		DashboardClients: make(map[*websocket.Conn]*DashboardClient),
		DB:               db,
		shutdown:         make(chan struct{}),
	}
}

func (s *AppState) authTimeout() time.Duration {
	if s.AuthTimeout > 0 {
		return s.AuthTimeout
	}
	return agentAuthTimeout
}

func (s *AppState) pingInterval() time.Duration {
	if s.PingInterval > 0 {
		return s.PingInterval
	}
	return livenessPingInterval
}

// Shutdown signals background loops to stop and closes every live session
// with a close frame. Safe to call more than once.
func (s *AppState) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })

	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")

	s.AgentConnsMu.RLock()
	conns := make([]*AgentConnection, 0, len(s.AgentConns))
	for _, conn := range s.AgentConns {
		conns = append(conns, conn)
	}
	s.AgentConnsMu.RUnlock()
	for _, conn := range conns {
		conn.Conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	}

	s.DashboardMu.RLock()
	clients := make([]*DashboardClient, 0, len(s.DashboardClients))
	for _, client := range s.DashboardClients {
		clients = append(clients, client)
	}
	s.DashboardMu.RUnlock()
	for _, client := range clients {
		client.Conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	}
}

// GetOnlineUsersCount returns the number of unique IPs connected to the dashboard
func (s *AppState) GetOnlineUsersCount() int {
	s.DashboardMu.RLock()
	defer s.DashboardMu.RUnlock()

	uniqueIPs := make(map[string]bool)
	for _, client := range s.DashboardClients {
		if client != nil && client.IP != "" {
			uniqueIPs[client.IP] = true
		}
	}
	return len(uniqueIPs)
}
