package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fleetpulse/internal/common"
)

const (
	ConfigFilename = "fleetpulse-config.json"
	DBFilename     = "fleetpulse.db"
)

var (
	jwtSecret   string
	jwtSecretMu sync.RWMutex
)

type LocalNodeConfig struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Provider string `json:"provider"`
	Tag      string `json:"tag"`
}

type SiteSettings struct {
	SiteName        string       `json:"site_name"`
	SiteDescription string       `json:"site_description"`
	SocialLinks     []SocialLink `json:"social_links"`
}

type SocialLink struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Label    string `json:"label"`
}

type ProbeSettings struct {
	PingTargets []common.PingTargetConfig `json:"ping_targets"`
}

// ServerGeoIP holds GeoIP data for a server
type ServerGeoIP struct {
	CountryCode string  `json:"country_code"`
	CountryName string  `json:"country_name"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

type RemoteServer struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	URL      string       `json:"url"`
	Location string       `json:"location"`
	Provider string       `json:"provider"`
	Tag      string       `json:"tag"`
	Token    string       `json:"token"`
	Version  string       `json:"version"`
	IP       string       `json:"ip"`
	GeoIP    *ServerGeoIP `json:"geoip,omitempty"`
}

// TLSConfig represents TLS/SSL configuration
type TLSConfig struct {
	Enabled bool   `json:"enabled"`
	Cert    string `json:"cert,omitempty"` // Path to certificate file
	Key     string `json:"key,omitempty"`  // Path to private key file
}

type AppConfig struct {
	AdminPasswordHash string          `json:"admin_password_hash"`
	JWTSecret         string          `json:"jwt_secret"`
	Port              string          `json:"port,omitempty"`
	Host              string          `json:"host,omitempty"` // Listen address (0.0.0.0, [::], or specific IP)
	DualStack         bool            `json:"dual_stack,omitempty"`
	TLS               *TLSConfig      `json:"tls,omitempty"`
	Servers           []RemoteServer  `json:"servers"`
	SiteSettings      SiteSettings    `json:"site_settings"`
	LocalNode         LocalNodeConfig `json:"local_node"`
	ProbeSettings     ProbeSettings   `json:"probe_settings"`
	GeoIPConfig       *GeoIPConfig    `json:"geoip_config,omitempty"`
}

func getExeDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

func GetConfigPath() string {
	// Allow override via environment variable
	if configPath := os.Getenv("FLEETPULSE_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return filepath.Join(getExeDir(), ConfigFilename)
}

func GetDBPath() string {
	// Allow override via environment variable
	if dbPath := os.Getenv("FLEETPULSE_DB_PATH"); dbPath != "" {
		return dbPath
	}
	return filepath.Join(getExeDir(), DBFilename)
}

func GetJWTSecret() string {
	jwtSecretMu.RLock()
	defer jwtSecretMu.RUnlock()
	if jwtSecret == "" {
		return "fallback-secret"
	}
	return jwtSecret
}

func InitJWTSecret(secret string) {
	jwtSecretMu.Lock()
	defer jwtSecretMu.Unlock()
	jwtSecret = secret
}

func GenerateRandomString(length int) string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghjkmnpqrstuvwxyz23456789"
	result := make([]byte, length)
	for i := range result {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		result[i] = charset[n.Int64()]
	}
	return string(result)
}

func NewAppConfigWithRandomPassword() (*AppConfig, string) {
	password := GenerateRandomString(16)
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	config := &AppConfig{
		AdminPasswordHash: string(hash),
		JWTSecret:         GenerateRandomString(64),
		Servers:           []RemoteServer{},
		SiteSettings: SiteSettings{
			SiteName:        "FleetPulse",
			SiteDescription: "Server Fleet Monitoring",
			SocialLinks:     []SocialLink{},
		},
		LocalNode:     LocalNodeConfig{},
		ProbeSettings: ProbeSettings{PingTargets: []common.PingTargetConfig{}},
	}
	return config, password
}

// VerifyAgentToken reports whether the credential stored for id exists and
// matches token. The compare is constant-time so probing cannot leak token
// bytes. Caller holds ConfigMu.
func (c *AppConfig) VerifyAgentToken(id, token string) (found, ok bool) {
	for i := range c.Servers {
		if c.Servers[i].ID == id {
			match := subtle.ConstantTimeCompare([]byte(c.Servers[i].Token), []byte(token)) == 1
			return true, match
		}
	}
	return false, false
}

func (c *AppConfig) ResetPassword() string {
	password := GenerateRandomString(16)
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	c.AdminPasswordHash = string(hash)
	return password
}

func LoadConfig() (*AppConfig, *string) {
	path := GetConfigPath()
	fmt.Printf("📂 Loading config from: %s\n", path)

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Printf("⚠️  Failed to read config: %v, using defaults\n", err)
			config, password := NewAppConfigWithRandomPassword()
			saveConfigNow(config)
			InitJWTSecret(config.JWTSecret)
			return config, &password
		}

		var config AppConfig
		if err := json.Unmarshal(data, &config); err != nil {
			fmt.Printf("⚠️  Failed to parse config: %v, using defaults\n", err)
			newConfig, password := NewAppConfigWithRandomPassword()
			saveConfigNow(newConfig)
			InitJWTSecret(newConfig.JWTSecret)
			return newConfig, &password
		}

		// Verify password hash looks valid
		if len(config.AdminPasswordHash) < 4 || config.AdminPasswordHash[:3] != "$2a" && config.AdminPasswordHash[:3] != "$2b" {
			fmt.Println("⚠️  Invalid password hash format, regenerating...")
			password := GenerateRandomString(16)
			hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			config.AdminPasswordHash = string(hash)
			saveConfigNow(&config)
			fmt.Printf("🔑 New password: %s\n", password)
		} else {
			fmt.Printf("✅ Password hash loaded (%d chars)\n", len(config.AdminPasswordHash))
		}

		// Ensure jwt_secret exists
		if config.JWTSecret == "" {
			config.JWTSecret = GenerateRandomString(64)
			saveConfigNow(&config)
		}

		InitJWTSecret(config.JWTSecret)
		return &config, nil
	}

	// First run - generate random password
	config, password := NewAppConfigWithRandomPassword()
	saveConfigNow(config)
	InitJWTSecret(config.JWTSecret)
	return config, &password
}

func ResetAdminPassword() string {
	path := GetConfigPath()
	var config *AppConfig

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err == nil {
			var c AppConfig
			if json.Unmarshal(data, &c) == nil {
				config = &c
			}
		}
	}

	if config == nil {
		config, _ = NewAppConfigWithRandomPassword()
	}

	password := config.ResetPassword()

	// Ensure JWT secret exists before saving
	if config.JWTSecret == "" {
		config.JWTSecret = GenerateRandomString(64)
	}

	saveConfigNow(config)

	// Re-initialize JWT secret in case server is running
	InitJWTSecret(config.JWTSecret)

	return password
}

// Config save debouncing - prevents excessive disk I/O
var (
	configDirty     bool
	configDirtyMu   sync.Mutex
	configSaveTimer *time.Timer
	pendingConfig   *AppConfig
)

const configSaveDelay = 5 * time.Second // Batch saves within 5 seconds

// SaveConfig marks config as dirty and schedules a debounced save
func SaveConfig(config *AppConfig) {
	configDirtyMu.Lock()
	defer configDirtyMu.Unlock()

	pendingConfig = config
	configDirty = true

	// If timer already running, it will save the latest config
	if configSaveTimer != nil {
		return
	}

	// Schedule save after delay
	configSaveTimer = time.AfterFunc(configSaveDelay, func() {
		configDirtyMu.Lock()
		if !configDirty || pendingConfig == nil {
			configDirtyMu.Unlock()
			return
		}
		cfg := pendingConfig
		configDirty = false
		configSaveTimer = nil
		configDirtyMu.Unlock()

		if err := saveConfigNow(cfg); err != nil {
			fmt.Printf("⚠️  Debounced config save failed: %v\n", err)
		}
	})
}

// SaveConfigImmediate saves config immediately (for critical operations like
// password changes) and reports the write error so callers can surface it.
func SaveConfigImmediate(config *AppConfig) error {
	configDirtyMu.Lock()
	if configSaveTimer != nil {
		configSaveTimer.Stop()
		configSaveTimer = nil
	}
	configDirty = false
	pendingConfig = nil
	configDirtyMu.Unlock()

	return saveConfigNow(config)
}

// FlushConfig writes any pending debounced save before shutdown.
func FlushConfig() {
	configDirtyMu.Lock()
	if configSaveTimer != nil {
		configSaveTimer.Stop()
		configSaveTimer = nil
	}
	cfg := pendingConfig
	dirty := configDirty
	configDirty = false
	pendingConfig = nil
	configDirtyMu.Unlock()

	if dirty && cfg != nil {
		if err := saveConfigNow(cfg); err != nil {
			fmt.Printf("⚠️  Final config save failed: %v\n", err)
		}
	}
}

// saveConfigNow writes to a temp file in the same directory and renames it
// over the original, so readers never observe a partial config.
func saveConfigNow(config *AppConfig) error {
	path := GetConfigPath()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		fmt.Printf("Failed to serialize config: %v\n", err)
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ConfigFilename+".tmp-*")
	if err != nil {
		fmt.Printf("Failed to create temp config: %v\n", err)
		return err
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		fmt.Printf("Failed to write config: %v\n", err)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		fmt.Printf("Failed to write config: %v\n", err)
		return err
	}
	return nil
}
