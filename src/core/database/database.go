package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration.
type Config struct {
	DatabaseURL        string `yaml:"database_url"`
	BusyTimeout        int    `yaml:"busy_timeout"`
	JournalMode        string `yaml:"journal_mode"`
	Synchronous        string `yaml:"synchronous"`
	CacheSize          int    `yaml:"cache_size"`
	EnableForeignKeys  bool   `yaml:"enable_foreign_keys"`
	MaxOpenConnections int    `yaml:"max_open_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections"`
	ConnMaxLifetime    int    `yaml:"conn_max_lifetime"` // seconds
}

// Database wraps a sql.DB instance with registry-specific methods.
type Database struct {
	*sql.DB
	config       *Config
	isPostgreSQL bool
}

// Initialize creates and configures the database connection. SQLite is used
// for development (default), PostgreSQL when DATABASE_URL carries a
// postgres:// scheme.
func Initialize(config *Config) (*Database, error) {
	if config == nil {
		config = &Config{
			DatabaseURL:        "agent_mesh_registry.db",
			BusyTimeout:        5000,
			JournalMode:        "WAL",
			Synchronous:        "NORMAL",
			CacheSize:          10000,
			EnableForeignKeys:  true,
			MaxOpenConnections: 25,
			MaxIdleConnections: 5,
			ConnMaxLifetime:    300,
		}
	}

	var driverName string
	isPostgres := strings.HasPrefix(config.DatabaseURL, "postgres://") ||
		strings.HasPrefix(config.DatabaseURL, "postgresql://")
	if isPostgres {
		driverName = "postgres"
	} else {
		driverName = "sqlite3"
	}

	sqlDB, err := sql.Open(driverName, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB.SetMaxOpenConns(config.MaxOpenConnections)
	sqlDB.SetMaxIdleConns(config.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(time.Duration(config.ConnMaxLifetime) * time.Second)

	database := &Database{
		DB:           sqlDB,
		config:       config,
		isPostgreSQL: isPostgres,
	}

	if !isPostgres {
		if config.EnableForeignKeys {
			database.Exec("PRAGMA foreign_keys = ON")
		}
		if config.BusyTimeout > 0 {
			database.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", config.BusyTimeout))
		}
		if config.JournalMode != "" {
			database.Exec(fmt.Sprintf("PRAGMA journal_mode = %s", config.JournalMode))
		}
		if config.Synchronous != "" {
			database.Exec(fmt.Sprintf("PRAGMA synchronous = %s", config.Synchronous))
		}
		if config.CacheSize > 0 {
			database.Exec(fmt.Sprintf("PRAGMA cache_size = -%d", config.CacheSize))
		}
	}

	if err := database.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// initializeSchema creates all tables and indexes.
func (db *Database) initializeSchema() error {
	autoincrement := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.isPostgreSQL {
		autoincrement = "SERIAL PRIMARY KEY"
	}

	schemas := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Agents: one row per registered agent. last_seen is touched only by
		// registration and heartbeat; the health monitor reads it and writes
		// status.
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			endpoint TEXT NOT NULL DEFAULT '',
			namespace TEXT NOT NULL DEFAULT 'default',
			version TEXT,
			status TEXT NOT NULL DEFAULT 'healthy',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		// Capabilities: what each agent provides. Capability name is unique
		// within its owning agent; many agents may provide the same name.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS capabilities (
			id %s,
			agent_id TEXT NOT NULL,
			name TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '1.0.0',
			description TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (agent_id) REFERENCES agents(agent_id) ON DELETE CASCADE,
			UNIQUE(agent_id, name)
		)`, autoincrement),

		// Dependency specs declared at registration, kept in declaration
		// order so heartbeat responses can recompute the same resolution map.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS dependency_specs (
			id %s,
			agent_id TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			capability TEXT NOT NULL,
			version_constraint TEXT NOT NULL DEFAULT '',
			tag_expr TEXT NOT NULL DEFAULT '[]',
			fallback TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (agent_id) REFERENCES agents(agent_id) ON DELETE CASCADE
		)`, autoincrement),

		// Append-only audit log of topology transitions.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS registry_events (
			id %s,
			event_type TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			data TEXT NOT NULL DEFAULT '{}'
		)`, autoincrement),
	}

	for _, schema := range schemas {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_agents_namespace ON agents(namespace)",
		"CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status)",
		"CREATE INDEX IF NOT EXISTS idx_agents_status_last_seen ON agents(status, last_seen)",

		"CREATE INDEX IF NOT EXISTS idx_capabilities_name ON capabilities(name)",
		"CREATE INDEX IF NOT EXISTS idx_capabilities_agent ON capabilities(agent_id)",

		"CREATE INDEX IF NOT EXISTS idx_dependency_specs_agent ON dependency_specs(agent_id, position)",
		"CREATE INDEX IF NOT EXISTS idx_dependency_specs_capability ON dependency_specs(capability)",

		"CREATE INDEX IF NOT EXISTS idx_events_agent ON registry_events(agent_id)",
		"CREATE INDEX IF NOT EXISTS idx_events_timestamp ON registry_events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_events_type ON registry_events(event_type)",
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			log.Printf("Warning: Failed to create index: %s - %v", indexSQL, err)
		}
	}

	if err := db.checkSchemaVersion(); err != nil {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	return nil
}

// checkSchemaVersion ensures schema is at the current version.
func (db *Database) checkSchemaVersion() error {
	const currentSchemaVersion = 1

	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&currentVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if currentVersion < currentSchemaVersion {
		_, err := db.Exec(
			fmt.Sprintf("INSERT INTO schema_version (version, applied_at) VALUES (%s, %s)",
				db.GetParameterPlaceholder(1), db.GetParameterPlaceholder(2)),
			currentSchemaVersion, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	return nil
}

// IsPostgreSQL reports whether the backing store is PostgreSQL.
func (db *Database) IsPostgreSQL() bool {
	return db.isPostgreSQL
}

// GetParameterPlaceholder returns the SQL parameter placeholder for the
// given 1-based position ("?" for SQLite, "$n" for PostgreSQL).
func (db *Database) GetParameterPlaceholder(position int) string {
	if db.isPostgreSQL {
		return fmt.Sprintf("$%d", position)
	}
	return "?"
}

// BuildParameterList returns a comma-separated placeholder list for count
// parameters starting at position 1.
func (db *Database) BuildParameterList(count int) string {
	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = db.GetParameterPlaceholder(i + 1)
	}
	return strings.Join(placeholders, ", ")
}

// BuildParameterListFrom returns a comma-separated placeholder list for
// count parameters starting at the given 1-based position.
func (db *Database) BuildParameterListFrom(start, count int) string {
	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = db.GetParameterPlaceholder(start + i)
	}
	return strings.Join(placeholders, ", ")
}

// Close closes the database connection.
func (db *Database) Close() error {
	return db.DB.Close()
}

// GetStats returns store statistics for the registry health endpoint.
func (db *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalAgents int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agents").Scan(&totalAgents); err != nil {
		return nil, fmt.Errorf("failed to get total agent count: %w", err)
	}
	stats["total_agents"] = totalAgents

	rows, err := db.QueryContext(ctx, "SELECT status, COUNT(*) FROM agents GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to get agent status counts: %w", err)
	}
	defer rows.Close()

	agentsByStatus := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan agent status counts: %w", err)
		}
		agentsByStatus[status] = count
	}
	stats["agents_by_status"] = agentsByStatus

	var uniqueCapabilities int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT name) FROM capabilities").Scan(&uniqueCapabilities); err != nil {
		return nil, fmt.Errorf("failed to get unique capabilities count: %w", err)
	}
	stats["unique_capabilities"] = uniqueCapabilities

	oneHourAgo := time.Now().UTC().Add(-time.Hour)
	var recentEvents int64
	err = db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM registry_events WHERE timestamp > %s", db.GetParameterPlaceholder(1)),
		oneHourAgo).Scan(&recentEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events count: %w", err)
	}
	stats["recent_events_last_hour"] = recentEvents

	return stats, nil
}
