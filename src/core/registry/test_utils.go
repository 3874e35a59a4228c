package registry

import (
	"testing"

	"agent-mesh/src/core/config"
	"agent-mesh/src/core/database"
	"agent-mesh/src/core/logger"
)

// createTestLogger creates a logger for tests at a quiet level.
func createTestLogger() *logger.Logger {
	testConfig := &config.Config{
		LogLevel:  "ERROR",
		DebugMode: false,
	}
	return logger.New(testConfig)
}

// setupTestService creates a Service backed by an isolated in-memory
// database. MaxOpenConnections is 1 so the :memory: database is shared
// across the test's connections.
func setupTestService(t *testing.T) (*Service, func()) {
	t.Helper()

	dbConfig := &database.Config{
		DatabaseURL:        ":memory:",
		MaxOpenConnections: 1,
		MaxIdleConnections: 1,
	}

	db, err := database.Initialize(dbConfig)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	service := NewService(db, DefaultServiceConfig(), createTestLogger())

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	}
	return service, cleanup
}

// setupTestMonitor wraps a test service with a health monitor using short
// thresholds suitable for deterministic scans.
func setupTestMonitor(t *testing.T, timeoutSeconds, evictionSeconds int) (*Service, *HealthMonitor, func()) {
	t.Helper()

	service, cleanup := setupTestService(t)
	cfg := &RegistryConfig{
		DefaultTimeoutThreshold:  timeoutSeconds,
		DefaultEvictionThreshold: evictionSeconds,
		HealthCheckInterval:      1,
		RequestTimeout:           5,
	}
	service.config = cfg
	monitor := NewHealthMonitor(service, cfg, createTestLogger())
	return service, monitor, cleanup
}
