package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// Version will be set at build time via -ldflags
var ServerVersion = "dev"

func main() {
	// Check for command line arguments
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("fleetpulse-server version %s\n", ServerVersion)
			os.Exit(0)
		case "--check":
			showDiagnostics()
			return
		case "--reset-password":
			password := ResetAdminPassword()
			fmt.Println("\n╔════════════════════════════════════════════════════════════════╗")
			fmt.Println("║                    🔑 PASSWORD RESET                           ║")
			fmt.Println("╠════════════════════════════════════════════════════════════════╣")
			fmt.Printf("║  New admin password: %-40s ║\n", password)
			fmt.Printf("║  Config file: %-47s ║\n", GetConfigPath())
			fmt.Println("╚════════════════════════════════════════════════════════════════╝")

			// Try to signal running server to reload config
			if err := findAndSignalServer(); err != nil {
				fmt.Printf("\n⚠️  %v\n", err)
				fmt.Println("   If the server is running, please restart it manually:")
				fmt.Println("     systemctl restart fleetpulse")
			} else {
				fmt.Println("\n✅ Server has been notified to reload the new password.")
			}
			return
		}
	}

	// Initialize database
	db, err := InitDatabase()
	if err != nil {
		fmt.Printf("Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize the database writer for serialized writes
	dbWriter = NewDBWriter(db, 100)
	defer dbWriter.Close()

	// Initialize history cache with 10 second TTL
	InitHistoryCache(10 * time.Second)

	fmt.Printf("📦 Database initialized: %s\n", GetDBPath())
	fmt.Printf("⚙️  Config file: %s\n", GetConfigPath())

	// Load config
	config, initialPassword := LoadConfig()
	if initialPassword != nil {
		fmt.Println("\n╔════════════════════════════════════════════════════════════════╗")
		fmt.Println("║              🎉 FIRST RUN - SAVE YOUR PASSWORD!               ║")
		fmt.Println("╠════════════════════════════════════════════════════════════════╣")
		fmt.Printf("║  Admin password: %-44s ║\n", *initialPassword)
		fmt.Println("║                                                                ║")
		fmt.Println("║  ⚠️  Save this password! It won't be shown again.              ║")
		fmt.Println("║  To reset: ./fleetpulse-server --reset-password                ║")
		fmt.Println("╚════════════════════════════════════════════════════════════════╝")
	}

	// Create app state
	state := NewAppState(config, db)

	// Login rate limiter (Redis-backed when FLEETPULSE_REDIS_URL is set)
	InitLoginRateLimiter()
	defer loginLimiter.Close()

	// Setup signal handler for config reload (SIGHUP)
	SetupSignalHandler(state)

	// Start pprof server for profiling (only when FLEETPULSE_PPROF is set)
	if os.Getenv("FLEETPULSE_PPROF") != "" {
		pprofAddr := os.Getenv("FLEETPULSE_PPROF")
		if pprofAddr == "1" || pprofAddr == "true" {
			pprofAddr = ":6060"
		}
		go func() {
			fmt.Printf("🔬 pprof server listening on %s\n", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				fmt.Printf("⚠️  pprof server error: %v\n", err)
			}
		}()
	}

	// Initialize GeoIP service; a missing database disables enrichment but
	// is not an error
	geoipService := GetGeoIPService()
	if err := geoipService.Initialize(config.GeoIPConfig); err != nil {
		fmt.Printf("⚠️  GeoIP initialization warning: %v\n", err)
	} else if geoipService.IsMMDBLoaded() {
		fmt.Println("🌍 GeoIP service initialized with MMDB database")
	} else {
		fmt.Println("🌍 GeoIP service initialized (API fallback mode)")
	}
	defer geoipService.Close()

	if len(config.ProbeSettings.PingTargets) > 0 {
		fmt.Printf("📡 Ping targets configured: %d targets\n", len(config.ProbeSettings.PingTargets))
	}

	// Start background tasks
	go state.RunBroadcastLoop()
	go state.RunSnapshotTicker()
	StartAggregationLoop(state.shutdown)

	// Setup routes
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// Trust proxy headers (for X-Forwarded-Proto, X-Forwarded-For, etc.)
	// This allows the app to correctly detect HTTPS when behind nginx
	r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	if os.Getenv("FLEETPULSE_TRUST_ALL_PROXIES") == "true" {
		r.SetTrustedProxies(nil) // nil means trust all proxies
	}

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "*")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Public routes
	r.GET("/health", HealthCheck)
	r.GET("/api/metrics/all", state.GetAllMetrics)
	r.GET("/api/online-users", state.GetOnlineUsers)
	r.GET("/api/history/:server_id", func(c *gin.Context) {
		state.GetHistory(c, db)
	})
	r.GET("/api/servers", state.GetServers)
	r.GET("/api/settings/site", state.GetSiteSettings)
	r.POST("/api/auth/login", state.Login)
	r.GET("/api/auth/verify", AuthMiddleware(), state.VerifyToken)
	r.GET("/api/install-command", AuthMiddleware(), state.GetInstallCommand)
	r.GET("/api/version", GetServerVersion)
	r.GET("/version", GetServerVersion)
	r.GET("/agent.sh", state.GetAgentScript)
	r.GET("/ws", state.HandleDashboardWS)
	r.GET("/ws/agent", state.HandleAgentWS)

	// Protected routes
	protected := r.Group("/")
	protected.Use(AuthMiddleware())
	{
		protected.POST("/api/servers", state.AddServer)
		protected.DELETE("/api/servers/:id", state.DeleteServer)
		protected.PUT("/api/servers/:id", state.UpdateServer)
		protected.POST("/api/servers/:id/update", state.UpdateAgent)
		protected.POST("/api/auth/password", state.ChangePassword)
		protected.POST("/api/agent/register", state.RegisterAgent)
		protected.PUT("/api/settings/site", state.UpdateSiteSettings)
		protected.GET("/api/settings/local-node", state.GetLocalNodeConfig)
		protected.PUT("/api/settings/local-node", state.UpdateLocalNodeConfig)
		protected.GET("/api/settings/probe", state.GetProbeSettings)
		protected.PUT("/api/settings/probe", state.UpdateProbeSettings)
		// GeoIP management
		protected.GET("/api/settings/geoip", state.GetGeoIPConfig)
		protected.PUT("/api/settings/geoip", state.UpdateGeoIPConfig)
		protected.GET("/api/geoip/lookup", state.LookupGeoIP)
		protected.POST("/api/geoip/refresh", state.RefreshServerGeoIP)
		protected.POST("/api/geoip/cache/clear", state.ClearGeoIPCache)
		protected.GET("/api/servers/:id/geoip", state.GetServerGeoIP)
	}

	// Static file serving
	webDir := getWebDir()
	if webDir != "" {
		// Serve static files from web directory
		r.Static("/assets", webDir+"/assets")
		r.StaticFile("/favicon.ico", webDir+"/favicon.ico")
		r.GET("/", func(c *gin.Context) {
			c.File(webDir + "/index.html")
		})
		r.NoRoute(func(c *gin.Context) {
			// For SPA, serve index.html for all non-API routes
			path := c.Request.URL.Path
			if !strings.HasPrefix(path, "/api") &&
				!strings.HasPrefix(path, "/ws") &&
				!strings.HasPrefix(path, "/agent.sh") &&
				!strings.HasPrefix(path, "/assets") {
				c.File(webDir + "/index.html")
			} else {
				c.Status(404)
			}
		})
	} else {
		// Fallback to embedded HTML
		r.NoRoute(func(c *gin.Context) {
			if c.Request.URL.Path == "/" || c.Request.URL.Path == "/index.html" {
				c.Header("Content-Type", "text/html")
				c.String(200, embeddedIndexHTML)
				return
			}
			c.Status(404)
		})
	}

	// Get port with priority: config > environment variable > default
	port := config.Port
	if port == "" {
		port = os.Getenv("FLEETPULSE_PORT")
	}
	if port == "" {
		port = "3001"
	}

	// Get host with priority: config > environment variable > default
	host := config.Host
	if host == "" {
		host = os.Getenv("FLEETPULSE_HOST")
	}
	if host == "" {
		host = "0.0.0.0" // Default to IPv4 all interfaces
	}

	// Check if dual-stack mode is enabled
	dualStack := config.DualStack
	if !dualStack && os.Getenv("FLEETPULSE_DUAL_STACK") == "true" {
		dualStack = true
	}

	// Determine protocol and address format
	useTLS := config.TLS != nil && config.TLS.Enabled && config.TLS.Cert != "" && config.TLS.Key != ""
	protocol := "http"
	wsProtocol := "ws"
	if useTLS {
		protocol = "https"
		wsProtocol = "wss"

		// Verify certificate files exist
		if _, err := os.Stat(config.TLS.Cert); err != nil {
			fmt.Printf("❌ TLS certificate file not found: %s\n", config.TLS.Cert)
			os.Exit(1)
		}
		if _, err := os.Stat(config.TLS.Key); err != nil {
			fmt.Printf("❌ TLS private key file not found: %s\n", config.TLS.Key)
			os.Exit(1)
		}
		fmt.Printf("🔒 TLS enabled: cert=%s, key=%s\n", config.TLS.Cert, config.TLS.Key)
	}

	var servers []*http.Server
	if dualStack {
		// Dual-stack mode: listen on both IPv4 and IPv6
		fmt.Printf("🌐 Dual-stack mode enabled (IPv4 + IPv6)\n")
		fmt.Printf("🚀 Server (IPv4) running on %s://0.0.0.0:%s\n", protocol, port)
		fmt.Printf("🚀 Server (IPv6) running on %s://[::]:%s\n", protocol, port)
		fmt.Printf("📡 Agent WebSocket: %s://0.0.0.0:%s/ws/agent\n", wsProtocol, port)
		servers = append(servers,
			&http.Server{Addr: "0.0.0.0:" + port, Handler: r},
			&http.Server{Addr: "[::]:" + port, Handler: r},
		)
	} else {
		// Single-stack mode: listen on specified address
		// IPv6 addresses need brackets (contain colons but no dots)
		isIPv6 := strings.Contains(host, ":") && !strings.Contains(host, ".")
		displayAddr := host
		listenAddr := host + ":" + port
		if isIPv6 {
			cleanHost := strings.Trim(host, "[]")
			displayAddr = "[" + cleanHost + "]"
			listenAddr = "[" + cleanHost + "]:" + port
		}

		fmt.Printf("🚀 Server running on %s://%s:%s\n", protocol, displayAddr, port)
		fmt.Printf("📡 Agent WebSocket: %s://%s:%s/ws/agent\n", wsProtocol, displayAddr, port)
		servers = append(servers, &http.Server{Addr: listenAddr, Handler: r})
	}
	fmt.Printf("🔑 Reset password: ./fleetpulse-server --reset-password\n")

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			var err error
			if useTLS {
				err = srv.ListenAndServeTLS(config.TLS.Cert, config.TLS.Key)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	// Block until a listener fails or a shutdown signal arrives
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		fmt.Printf("❌ Listener error: %v\n", err)
		os.Exit(1)
	case sig := <-quit:
		fmt.Printf("\n🛑 Received %s, shutting down...\n", sig)
	}

	// Stop background loops and send close frames to every live session,
	// then drain in-flight HTTP requests
	state.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(ctx)
	}

	// Flush any debounced config save; the deferred dbWriter.Close drains
	// pending metric writes before the database closes
	FlushConfig()
	fmt.Println("👋 Shutdown complete")
}

func showDiagnostics() {
	configPath := GetConfigPath()
	dbPath := GetDBPath()

	fmt.Println("\n╔════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    🔍 DIAGNOSTICS                              ║")
	fmt.Println("╠════════════════════════════════════════════════════════════════╣")

	exe, _ := os.Executable()
	fmt.Printf("║  Executable: %-48s ║\n", exe)
	fmt.Printf("║  Config: %-52s ║\n", configPath)
	fmt.Printf("║  Config exists: %-45s ║\n", boolToStr(fileExists(configPath)))
	fmt.Printf("║  Database: %-50s ║\n", dbPath)
	fmt.Printf("║  Database exists: %-43s ║\n", boolToStr(fileExists(dbPath)))

	if fileExists(configPath) {
		data, err := os.ReadFile(configPath)
		if err == nil {
			var config map[string]interface{}
			if json.Unmarshal(data, &config) == nil {
				hash, _ := config["admin_password_hash"].(string)
				hasHash := hash != "" && (hash[:3] == "$2a" || hash[:3] == "$2b")
				fmt.Printf("║  Password hash valid: %-39s ║\n", boolToStr(hasHash))

				servers, _ := config["servers"].([]interface{})
				fmt.Printf("║  Servers configured: %-40d ║\n", len(servers))
			}
		}
	}

	fmt.Println("╚════════════════════════════════════════════════════════════════╝")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// getWebDir finds the web directory containing the frontend assets
func getWebDir() string {
	// Check FLEETPULSE_WEB_DIR environment variable
	if webDir := os.Getenv("FLEETPULSE_WEB_DIR"); webDir != "" {
		if _, err := os.Stat(filepath.Join(webDir, "index.html")); err == nil {
			return webDir
		}
		if _, err := os.Stat(filepath.Join(webDir, "dist", "index.html")); err == nil {
			return filepath.Join(webDir, "dist")
		}
	}

	// Check relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths := []string{
			filepath.Join(exeDir, "..", "web", "dist"),
			filepath.Join(exeDir, "web", "dist"),
			filepath.Join(exeDir, "..", "..", "web", "dist"),
			filepath.Join(exeDir, "..", "dist"),
		}
		for _, p := range paths {
			if abs, err := filepath.Abs(p); err == nil {
				if _, err := os.Stat(filepath.Join(abs, "index.html")); err == nil {
					return abs
				}
			}
		}
	}

	// Check common locations
	paths := []string{
		"./web/dist",
		"./web",
		"./dist",
		"../web/dist",
		"/opt/fleetpulse/web",
	}
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			if _, err := os.Stat(filepath.Join(abs, "index.html")); err == nil {
				return abs
			}
		}
	}

	return ""
}

const embeddedIndexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1.0" />
  <title>FleetPulse - Fleet Monitor</title>
  <style>
    * { margin: 0; padding: 0; box-sizing: border-box; }
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
      background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
      color: #e8e8e8; min-height: 100vh;
      display: flex; align-items: center; justify-content: center;
    }
    .container { text-align: center; padding: 2rem; }
    h1 { font-size: 3rem; margin-bottom: 1rem; background: linear-gradient(90deg, #00d9ff, #00ff88);
         -webkit-background-clip: text; -webkit-text-fill-color: transparent; }
    p { color: #888; margin-bottom: 2rem; }
    .status { background: rgba(0,217,255,0.1); border: 1px solid rgba(0,217,255,0.3);
              border-radius: 12px; padding: 2rem; margin-top: 2rem; }
    .status h2 { color: #00d9ff; margin-bottom: 1rem; }
    code { background: rgba(0,0,0,0.3); padding: 0.5rem 1rem; border-radius: 6px;
           display: block; margin: 0.5rem 0; font-size: 0.9rem; }
  </style>
</head>
<body>
  <div class="container">
    <h1>FleetPulse</h1>
    <p>Server Fleet Monitoring</p>
    <div class="status">
      <h2>Server is Running</h2>
      <p>Web assets not found. API is available at:</p>
      <code>GET /api/metrics/all</code>
      <code>GET /api/history/:server_id?range=1h|24h|7d|30d</code>
      <code>GET /api/settings/site</code>
    </div>
  </div>
</body>
</html>`
