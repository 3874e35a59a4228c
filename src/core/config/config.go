package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"agent-mesh/src/core/database"
)

// Config holds all configuration for the Agent Mesh Registry.
type Config struct {
	// Server configuration
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Database configuration
	Database *database.Config `yaml:"database"`

	// Registry identity
	RegistryName string `yaml:"registry_name"`

	// Health monitoring configuration (seconds)
	HealthCheckInterval      int `yaml:"health_check_interval"`
	DefaultTimeoutThreshold  int `yaml:"default_timeout_threshold"`
	DefaultEvictionThreshold int `yaml:"default_eviction_threshold"`

	// Bound on store transactions per request (seconds)
	RequestTimeout int `yaml:"request_timeout"`

	// CORS configuration
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`

	// Logging configuration
	LogLevel  string `yaml:"log_level"`
	DebugMode bool   `yaml:"debug_mode"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		Host:                     getEnvString("HOST", "localhost"),
		Port:                     getEnvInt("PORT", 8000),
		RegistryName:             getEnvString("REGISTRY_NAME", "agent-mesh-registry"),
		HealthCheckInterval:      getEnvInt("HEALTH_CHECK_INTERVAL", 10),
		DefaultTimeoutThreshold:  getEnvInt("DEFAULT_TIMEOUT_THRESHOLD", 60),
		DefaultEvictionThreshold: getEnvInt("DEFAULT_EVICTION_THRESHOLD", 120),
		RequestTimeout:           getEnvInt("REQUEST_TIMEOUT", 10),
		EnableCORS:               getEnvBool("ENABLE_CORS", true),
		AllowedOrigins:           getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),
		AllowedMethods:           getEnvStringSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders:           getEnvStringSlice("ALLOWED_HEADERS", []string{"*"}),
		LogLevel:                 getEnvString("AGENT_MESH_LOG_LEVEL", "INFO"),
		DebugMode:                getEnvBool("AGENT_MESH_DEBUG_MODE", false),
	}

	cfg.Database = &database.Config{
		DatabaseURL:        getEnvString("DATABASE_URL", "agent_mesh_registry.db"),
		BusyTimeout:        getEnvInt("DB_BUSY_TIMEOUT", 5000),
		JournalMode:        getEnvString("DB_JOURNAL_MODE", "WAL"),
		Synchronous:        getEnvString("DB_SYNCHRONOUS", "NORMAL"),
		CacheSize:          getEnvInt("DB_CACHE_SIZE", 10000),
		EnableForeignKeys:  getEnvBool("DB_ENABLE_FOREIGN_KEYS", true),
		MaxOpenConnections: getEnvInt("DB_MAX_OPEN_CONNECTIONS", 25),
		MaxIdleConnections: getEnvInt("DB_MAX_IDLE_CONNECTIONS", 5),
		ConnMaxLifetime:    getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	return cfg
}

// MergeFile overlays values from a YAML config file on top of the current
// configuration. Only keys present in the file are applied; env defaults
// remain for everything else.
func (c *Config) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if overlay.Host != "" {
		c.Host = overlay.Host
	}
	if overlay.Port != 0 {
		c.Port = overlay.Port
	}
	if overlay.RegistryName != "" {
		c.RegistryName = overlay.RegistryName
	}
	if overlay.HealthCheckInterval != 0 {
		c.HealthCheckInterval = overlay.HealthCheckInterval
	}
	if overlay.DefaultTimeoutThreshold != 0 {
		c.DefaultTimeoutThreshold = overlay.DefaultTimeoutThreshold
	}
	if overlay.DefaultEvictionThreshold != 0 {
		c.DefaultEvictionThreshold = overlay.DefaultEvictionThreshold
	}
	if overlay.RequestTimeout != 0 {
		c.RequestTimeout = overlay.RequestTimeout
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.Database != nil && overlay.Database.DatabaseURL != "" {
		c.Database.DatabaseURL = overlay.Database.DatabaseURL
	}

	return nil
}

// Validate ensures configuration is valid.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.HealthCheckInterval < 1 {
		return fmt.Errorf("health check interval must be positive: %d", c.HealthCheckInterval)
	}

	if c.DefaultTimeoutThreshold < 1 {
		return fmt.Errorf("timeout threshold must be positive: %d", c.DefaultTimeoutThreshold)
	}

	if c.DefaultEvictionThreshold <= c.DefaultTimeoutThreshold {
		return fmt.Errorf("eviction threshold (%d) must exceed timeout threshold (%d)",
			c.DefaultEvictionThreshold, c.DefaultTimeoutThreshold)
	}

	if c.RequestTimeout < 1 {
		return fmt.Errorf("request timeout must be positive: %d", c.RequestTimeout)
	}

	validLogLevels := map[string]bool{
		"DEBUG":    true,
		"INFO":     true,
		"WARNING":  true,
		"ERROR":    true,
		"CRITICAL": true,
	}
	if !validLogLevels[strings.ToUpper(c.LogLevel)] {
		return fmt.Errorf("invalid log level: %s (valid: DEBUG, INFO, WARNING, ERROR, CRITICAL)", c.LogLevel)
	}

	if c.DebugMode {
		c.LogLevel = "DEBUG"
	}

	return nil
}

// GetDatabaseURL returns the database URL.
func (c *Config) GetDatabaseURL() string {
	return c.Database.DatabaseURL
}

// IsProduction determines if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(getEnvString("ENVIRONMENT", "development"))
	return env == "production" || env == "prod"
}

// IsDebugMode determines if debug mode is enabled.
func (c *Config) IsDebugMode() bool {
	return c.DebugMode || strings.ToUpper(c.LogLevel) == "DEBUG"
}

// ShouldLogAtLevel checks if messages at the given level should be logged.
func (c *Config) ShouldLogAtLevel(level string) bool {
	levelPriority := map[string]int{
		"DEBUG":    0,
		"INFO":     1,
		"WARNING":  2,
		"ERROR":    3,
		"CRITICAL": 4,
	}

	currentPriority, exists := levelPriority[strings.ToUpper(c.LogLevel)]
	if !exists {
		currentPriority = 1
	}

	checkPriority, exists := levelPriority[strings.ToUpper(level)]
	if !exists {
		return false
	}

	return checkPriority >= currentPriority
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
