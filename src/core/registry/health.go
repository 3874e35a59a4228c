package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"agent-mesh/src/core/logger"
)

// HealthMonitor is the passive health scanner. Agents never get probed;
// the monitor only compares last_seen against the timeout and eviction
// thresholds on a fixed interval.
type HealthMonitor struct {
	service *Service
	config  *RegistryConfig
	logger  *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewHealthMonitor creates a health monitor bound to a registry service.
func NewHealthMonitor(service *Service, config *RegistryConfig, log *logger.Logger) *HealthMonitor {
	if config == nil {
		config = DefaultServiceConfig()
	}
	return &HealthMonitor{
		service: service,
		config:  config,
		logger:  log,
	}
}

// Start begins periodic health monitoring. Safe to call once; subsequent
// calls while running are no-ops.
func (hm *HealthMonitor) Start() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hm.running {
		return
	}
	hm.running = true
	hm.stopCh = make(chan struct{})

	hm.wg.Add(1)
	go hm.monitoringLoop()

	hm.logger.Info("Health monitor started: interval=%ds timeout=%ds eviction=%ds",
		hm.config.HealthCheckInterval, hm.config.DefaultTimeoutThreshold,
		hm.config.DefaultEvictionThreshold)
}

// Stop halts monitoring and waits for the in-flight scan to finish.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	if !hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = false
	close(hm.stopCh)
	hm.mu.Unlock()

	hm.wg.Wait()
	hm.logger.Info("Health monitor stopped")
}

// IsRunning reports whether the monitoring loop is active.
func (hm *HealthMonitor) IsRunning() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.running
}

func (hm *HealthMonitor) monitoringLoop() {
	defer hm.wg.Done()

	interval := time.Duration(hm.config.HealthCheckInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := hm.CheckAgentHealth(ctx); err != nil {
				hm.logger.Error("Health scan failed: %v", err)
			}
			cancel()
		}
	}
}

// CheckAgentHealth runs one scan: stale healthy agents flip to unhealthy,
// and agents past the eviction threshold are removed. Exposed so tests can
// drive scans deterministically without the ticker.
func (hm *HealthMonitor) CheckAgentHealth(ctx context.Context) error {
	now := time.Now().UTC()

	if err := hm.markUnhealthy(ctx, now); err != nil {
		return err
	}
	return hm.evictExpired(ctx, now)
}

// markUnhealthy transitions healthy agents whose last_seen is older than
// the timeout threshold. The status predicate on the UPDATE makes the
// transition, and therefore its event, happen at most once per real
// transition even when a heartbeat races the scan.
func (hm *HealthMonitor) markUnhealthy(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-time.Duration(hm.config.DefaultTimeoutThreshold) * time.Second)
	db := hm.service.db

	selectSQL := fmt.Sprintf(
		"SELECT agent_id, status FROM agents WHERE status <> %s AND last_seen < %s",
		db.GetParameterPlaceholder(1), db.GetParameterPlaceholder(2))
	rows, err := db.QueryContext(ctx, selectSQL, StatusUnhealthy, cutoff)
	if err != nil {
		return fmt.Errorf("failed to query stale agents: %w", err)
	}

	type staleAgent struct {
		id     string
		status string
	}
	var stale []staleAgent
	for rows.Next() {
		var agent staleAgent
		if err := rows.Scan(&agent.id, &agent.status); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan stale agent: %w", err)
		}
		stale = append(stale, agent)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate stale agents: %w", err)
	}

	for _, agent := range stale {
		agentID := agent.id

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		updateSQL := fmt.Sprintf(
			"UPDATE agents SET status = %s, updated_at = %s WHERE agent_id = %s AND status <> %s AND last_seen < %s",
			db.GetParameterPlaceholder(1), db.GetParameterPlaceholder(2),
			db.GetParameterPlaceholder(3), db.GetParameterPlaceholder(4),
			db.GetParameterPlaceholder(5))
		res, err := tx.ExecContext(ctx, updateSQL, StatusUnhealthy, now, agentID, StatusUnhealthy, cutoff)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mark agent %s unhealthy: %w", agentID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			// Heartbeat arrived between the scan and this update.
			tx.Rollback()
			continue
		}

		if err := hm.service.recordEvent(ctx, tx, EventUnhealthy, agentID, map[string]interface{}{
			"old_status": agent.status,
			"new_status": StatusUnhealthy,
			"timeout":    hm.config.DefaultTimeoutThreshold,
		}, now); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit unhealthy transition: %w", err)
		}

		hm.logger.Warning("Agent %s marked unhealthy: no heartbeat for %ds",
			agentID, hm.config.DefaultTimeoutThreshold)
	}

	return nil
}

// evictExpired removes unhealthy agents whose last_seen is older than the
// eviction threshold, along with their capabilities and dependency specs.
// Event rows are kept so evictions remain auditable after the agent row is
// gone.
func (hm *HealthMonitor) evictExpired(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-time.Duration(hm.config.DefaultEvictionThreshold) * time.Second)
	db := hm.service.db

	selectSQL := fmt.Sprintf(
		"SELECT agent_id FROM agents WHERE status = %s AND last_seen < %s",
		db.GetParameterPlaceholder(1), db.GetParameterPlaceholder(2))
	rows, err := db.QueryContext(ctx, selectSQL, StatusUnhealthy, cutoff)
	if err != nil {
		return fmt.Errorf("failed to query expired agents: %w", err)
	}

	var expired []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan expired agent: %w", err)
		}
		expired = append(expired, agentID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate expired agents: %w", err)
	}

	for _, agentID := range expired {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		deleteSpecsSQL := fmt.Sprintf(
			"DELETE FROM dependency_specs WHERE agent_id = %s", db.GetParameterPlaceholder(1))
		if _, err := tx.ExecContext(ctx, deleteSpecsSQL, agentID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete dependency specs for %s: %w", agentID, err)
		}

		deleteCapsSQL := fmt.Sprintf(
			"DELETE FROM capabilities WHERE agent_id = %s", db.GetParameterPlaceholder(1))
		if _, err := tx.ExecContext(ctx, deleteCapsSQL, agentID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete capabilities for %s: %w", agentID, err)
		}

		deleteAgentSQL := fmt.Sprintf(
			"DELETE FROM agents WHERE agent_id = %s AND status = %s AND last_seen < %s",
			db.GetParameterPlaceholder(1), db.GetParameterPlaceholder(2),
			db.GetParameterPlaceholder(3))
		res, err := tx.ExecContext(ctx, deleteAgentSQL, agentID, StatusUnhealthy, cutoff)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to evict agent %s: %w", agentID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			tx.Rollback()
			continue
		}

		if err := hm.service.recordEvent(ctx, tx, EventExpire, agentID, map[string]interface{}{
			"eviction_threshold": hm.config.DefaultEvictionThreshold,
		}, now); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit eviction: %w", err)
		}

		hm.logger.Warning("Agent %s evicted: no heartbeat for %ds",
			agentID, hm.config.DefaultEvictionThreshold)
	}

	return nil
}
