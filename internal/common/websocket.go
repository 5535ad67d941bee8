package common

// ============================================================================
// WebSocket Message Types
// ============================================================================

type AuthMessage struct {
	Type     string `json:"type"`
	ServerID string `json:"server_id"`
	Token    string `json:"token"`
	Version  string `json:"version,omitempty"`
}

type MetricsMessage struct {
	Type    string        `json:"type"`
	Metrics SystemMetrics `json:"metrics"`
}

// ServerResponse covers every hub-to-agent frame: auth results, error
// notices, and update commands.
type ServerResponse struct {
	Type        string             `json:"type"`
	Status      string             `json:"status,omitempty"`
	Message     string             `json:"message,omitempty"`
	Command     string             `json:"command,omitempty"`
	DownloadURL string             `json:"download_url,omitempty"`
	PingTargets []PingTargetConfig `json:"ping_targets,omitempty"`
}

// ============================================================================
// Registration Types
// ============================================================================

type RegisterRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Provider string `json:"provider"`
}

type RegisterResponse struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}
