// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir         string // Base directory for the client-data cache (always absolute)
	PipelineURL     string // Remote multi-agent pipeline service
	DashboardAPIURL string // Bots and community backend
	APIToken        string // Bearer token attached to every authenticated call
	PipelineMode    string // e.g. "fast" or "full"
	LogLevel        string
	Port            int
	DevMode         bool
	Workflow        *WorkflowConfig
	Artifacts       *ArtifactConfig
}

// WorkflowConfig holds the timing knobs of the workflow core.
type WorkflowConfig struct {
	PollInterval             time.Duration // Fixed interval between status polls
	PollTimeout              time.Duration // Bound on a single poll request
	AutoSaveDelay            time.Duration // Delay before the post-refinement auto-save
	RequestRateLimit         float64       // Requests per second to remote services, 0 = unlimited
	CommunityRefreshSchedule string        // Cron schedule for the community listing refresh
}

// ArtifactConfig holds the optional S3-compatible export of generated code.
type ArtifactConfig struct {
	Bucket    string
	Endpoint  string // Empty = AWS default endpoint resolution
	Region    string
	AccessKey string
	SecretKey string
}

// Enabled reports whether artifact export is configured.
func (a *ArtifactConfig) Enabled() bool {
	return a != nil && a.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("STUDIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:         absDataDir,
		PipelineURL:     getEnv("PIPELINE_URL", "http://localhost:8000"),
		DashboardAPIURL: getEnv("DASHBOARD_API_URL", "http://localhost:8000"),
		APIToken:        getEnv("STUDIO_API_TOKEN", ""),
		PipelineMode:    getEnv("PIPELINE_MODE", "fast"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		Port:            getEnvAsInt("GO_PORT", 8001),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		Workflow:        loadWorkflowConfig(),
		Artifacts: &ArtifactConfig{
			Bucket:    getEnv("ARTIFACT_BUCKET", ""),
			Endpoint:  getEnv("ARTIFACT_ENDPOINT", ""),
			Region:    getEnv("ARTIFACT_REGION", "auto"),
			AccessKey: getEnv("ARTIFACT_ACCESS_KEY", ""),
			SecretKey: getEnv("ARTIFACT_SECRET_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"PIPELINE_URL":      c.PipelineURL,
		"DASHBOARD_API_URL": c.DashboardAPIURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}

	if c.Workflow == nil {
		return fmt.Errorf("workflow configuration missing")
	}
	if c.Workflow.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Workflow.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout must be positive")
	}
	if c.Workflow.RequestRateLimit < 0 {
		return fmt.Errorf("request rate limit must not be negative")
	}

	if c.Artifacts.Enabled() && (c.Artifacts.AccessKey == "") != (c.Artifacts.SecretKey == "") {
		return fmt.Errorf("artifact access key and secret key must be set together")
	}

	return nil
}

// loadWorkflowConfig loads the workflow timings with their defaults
func loadWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		PollInterval:             getEnvAsDuration("POLL_INTERVAL_MS", 2*time.Second),
		PollTimeout:              getEnvAsDuration("POLL_TIMEOUT_MS", 30*time.Second),
		AutoSaveDelay:            getEnvAsDuration("AUTO_SAVE_DELAY_MS", 1500*time.Millisecond),
		RequestRateLimit:         getEnvAsFloat("REQUEST_RATE_LIMIT", 0),
		CommunityRefreshSchedule: getEnv("COMMUNITY_REFRESH_SCHEDULE", "@every 5m"),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration reads a millisecond count
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
