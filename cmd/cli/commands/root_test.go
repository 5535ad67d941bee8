package commands

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateConfig points the user config directory at a temp dir so stored
// logins from the real machine never leak into tests
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	return dir
}

func setServerFlag(t *testing.T, value string) {
	t.Helper()
	old := serverFlag
	serverFlag = value
	t.Cleanup(func() { serverFlag = old })
}

func TestServerURLResolution(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		isolateConfig(t)
		setServerFlag(t, "https://flag.example.com/")

		if got := serverURL(); got != "https://flag.example.com" {
			t.Errorf("Expected the flag value without trailing slash, got %q", got)
		}
	})

	t.Run("stored login next", func(t *testing.T) {
		isolateConfig(t)
		setServerFlag(t, "")

		if err := saveCLIConfig(&cliConfig{Server: "https://stored.example.com", Token: "tok"}); err != nil {
			t.Fatalf("Failed to save config: %v", err)
		}
		if got := serverURL(); got != "https://stored.example.com" {
			t.Errorf("Expected the stored server, got %q", got)
		}
	})

	t.Run("localhost default last", func(t *testing.T) {
		isolateConfig(t)
		setServerFlag(t, "")

		if got := serverURL(); got != defaultServerURL {
			t.Errorf("Expected %q, got %q", defaultServerURL, got)
		}
	})
}

func TestCLIConfigRoundtrip(t *testing.T) {
	isolateConfig(t)

	cfg := &cliConfig{Server: "https://hub.example.com", Token: "secret-token"}
	if err := saveCLIConfig(cfg); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	path, err := cliConfigPath()
	if err != nil {
		t.Fatalf("Failed to resolve config path: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected mode 0600, got %o", info.Mode().Perm())
	}

	loaded := loadCLIConfig()
	if loaded.Server != cfg.Server || loaded.Token != cfg.Token {
		t.Errorf("Roundtrip mismatch: %+v", loaded)
	}
}

func TestLoadCLIConfigTolerance(t *testing.T) {
	t.Run("missing file yields empty config", func(t *testing.T) {
		isolateConfig(t)

		cfg := loadCLIConfig()
		if cfg.Server != "" || cfg.Token != "" {
			t.Errorf("Expected an empty config, got %+v", cfg)
		}
	})

	t.Run("corrupt file yields empty config", func(t *testing.T) {
		isolateConfig(t)

		path, err := cliConfigPath()
		if err != nil {
			t.Fatalf("Failed to resolve config path: %v", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create config dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(":\tnot yaml"), 0600); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		cfg := loadCLIConfig()
		if cfg.Server != "" || cfg.Token != "" {
			t.Errorf("Expected an empty config, got %+v", cfg)
		}
	})
}

func TestWSURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://hub.example.com:3001", "ws://hub.example.com:3001/ws"},
		{"https://hub.example.com", "wss://hub.example.com/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			isolateConfig(t)
			setServerFlag(t, tt.server)

			if got := wsURL("/ws"); got != tt.want {
				t.Errorf("wsURL(%q) = %q, want %q", tt.server, got, tt.want)
			}
		})
	}
}

func TestAPIRequest(t *testing.T) {
	t.Run("decodes a success response", func(t *testing.T) {
		isolateConfig(t)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"abc","name":"web-1"}`))
		}))
		defer ts.Close()
		setServerFlag(t, ts.URL)

		var out remoteServer
		if err := apiRequest("GET", "/api/servers/abc", nil, &out); err != nil {
			t.Fatalf("apiRequest failed: %v", err)
		}
		if out.ID != "abc" || out.Name != "web-1" {
			t.Errorf("Unexpected response: %+v", out)
		}
	})

	t.Run("sends the stored token and a JSON body", func(t *testing.T) {
		isolateConfig(t)

		var gotAuth, gotContentType, gotBody string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			w.Write([]byte(`{}`))
		}))
		defer ts.Close()
		setServerFlag(t, ts.URL)

		if err := saveCLIConfig(&cliConfig{Server: ts.URL, Token: "session-token"}); err != nil {
			t.Fatalf("Failed to save config: %v", err)
		}

		if err := apiRequest("POST", "/api/servers", map[string]string{"name": "web-1"}, nil); err != nil {
			t.Fatalf("apiRequest failed: %v", err)
		}
		if gotAuth != "Bearer session-token" {
			t.Errorf("Expected the stored token, got %q", gotAuth)
		}
		if gotContentType != "application/json" {
			t.Errorf("Expected JSON content type, got %q", gotContentType)
		}
		if gotBody != `{"name":"web-1"}` {
			t.Errorf("Unexpected body: %q", gotBody)
		}
	})

	t.Run("401 suggests logging in", func(t *testing.T) {
		isolateConfig(t)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer ts.Close()
		setServerFlag(t, ts.URL)

		err := apiRequest("GET", "/api/servers", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "login") {
			t.Errorf("Expected a login hint, got %v", err)
		}
	})

	t.Run("surfaces the dashboard error message", func(t *testing.T) {
		isolateConfig(t)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Server not found"}`))
		}))
		defer ts.Close()
		setServerFlag(t, ts.URL)

		err := apiRequest("GET", "/api/servers/missing", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "Server not found") {
			t.Errorf("Expected the API error message, got %v", err)
		}
	})

	t.Run("falls back to the HTTP status", func(t *testing.T) {
		isolateConfig(t)

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream exploded"))
		}))
		defer ts.Close()
		setServerFlag(t, ts.URL)

		err := apiRequest("GET", "/api/servers", nil, nil)
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("Expected the HTTP status in the error, got %v", err)
		}
	})
}

func TestCommandTree(t *testing.T) {
	expected := map[string]bool{
		"login":   false,
		"status":  false,
		"servers": false,
		"update":  false,
		"watch":   false,
	}

	for _, cmd := range rootCmd.Commands() {
		name := strings.Fields(cmd.Use)[0]
		if _, ok := expected[name]; ok {
			expected[name] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("Command %q not registered", name)
		}
	}
}
