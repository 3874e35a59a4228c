package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"agent-mesh/src/core/database"
	"agent-mesh/src/core/logger"
)

// Service is the authoritative store of agent/capability state. All
// components access it through the store's transactional API; per-agent
// state transitions are linearized by the transaction on that agent's row.
type Service struct {
	db        *database.Database
	config    *RegistryConfig
	logger    *logger.Logger
	validator *AgentRegistrationValidator
	resolver  *Resolver
}

// NewService creates a new registry service instance.
func NewService(db *database.Database, config *RegistryConfig, log *logger.Logger) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}

	return &Service{
		db:        db,
		config:    config,
		logger:    log,
		validator: NewAgentRegistrationValidator(),
		resolver:  NewResolver(log),
	}
}

// withTimeout bounds store work for a single request so callers get a
// retryable error instead of a hang.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.config.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// RegisterAgent handles agent registration and re-registration. The agent's
// full capability and dependency set is replaced atomically; partial
// registrations are never visible. Re-registering with an identical payload
// is idempotent: last_seen is refreshed but no update event is emitted.
func (s *Service) RegisterAgent(ctx context.Context, req *AgentRegistrationRequest) (*AgentRegistrationResponse, error) {
	if err := s.validator.ValidateAgentRegistration(req); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	agentID := req.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	namespace := req.Namespace
	if namespace == "" {
		namespace = "default"
	}

	metadataJSON, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if req.Metadata == nil {
		metadataJSON = []byte("{}")
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldStatus string
	var storedFingerprint string
	exists := true

	selectSQL := fmt.Sprintf(
		"SELECT status FROM agents WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	err = tx.QueryRowContext(ctx, selectSQL, agentID).Scan(&oldStatus)
	if err == sql.ErrNoRows {
		exists = false
	} else if err != nil {
		return nil, fmt.Errorf("failed to check existing agent: %w", err)
	}

	newFingerprint, err := payloadFingerprint(req, namespace)
	if err != nil {
		return nil, err
	}

	if exists {
		storedFingerprint, err = s.storedFingerprint(ctx, tx, agentID)
		if err != nil {
			return nil, err
		}
	}

	if !exists {
		insertSQL := fmt.Sprintf(`
			INSERT INTO agents (agent_id, name, endpoint, namespace, version, status, metadata,
			                    created_at, updated_at, last_seen)
			VALUES (%s)`, s.db.BuildParameterList(10))
		_, err = tx.ExecContext(ctx, insertSQL,
			agentID, req.Name, req.Endpoint, namespace, req.Version, StatusHealthy,
			string(metadataJSON), now, now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert agent: %w", err)
		}

		if err := s.replaceCapabilitySet(ctx, tx, agentID, req, now); err != nil {
			return nil, err
		}

		if err := s.recordEvent(ctx, tx, EventRegister, agentID, map[string]interface{}{
			"status":       StatusHealthy,
			"capabilities": len(req.Capabilities),
			"dependencies": len(req.Dependencies),
		}, now); err != nil {
			return nil, err
		}
	} else {
		updateSQL := fmt.Sprintf(`
			UPDATE agents
			SET name = %s, endpoint = %s, namespace = %s, version = %s, metadata = %s,
			    updated_at = %s, last_seen = %s
			WHERE agent_id = %s`,
			s.db.GetParameterPlaceholder(1), s.db.GetParameterPlaceholder(2),
			s.db.GetParameterPlaceholder(3), s.db.GetParameterPlaceholder(4),
			s.db.GetParameterPlaceholder(5), s.db.GetParameterPlaceholder(6),
			s.db.GetParameterPlaceholder(7), s.db.GetParameterPlaceholder(8))
		_, err = tx.ExecContext(ctx, updateSQL,
			req.Name, req.Endpoint, namespace, req.Version, string(metadataJSON), now, now, agentID)
		if err != nil {
			return nil, fmt.Errorf("failed to update agent: %w", err)
		}

		if storedFingerprint != newFingerprint {
			if err := s.replaceCapabilitySet(ctx, tx, agentID, req, now); err != nil {
				return nil, err
			}
			if err := s.recordEvent(ctx, tx, EventUpdate, agentID, map[string]interface{}{
				"capabilities": len(req.Capabilities),
				"dependencies": len(req.Dependencies),
			}, now); err != nil {
				return nil, err
			}
		}

		// Registration is also a liveness signal: an unhealthy agent
		// re-registering recovers, with the status flip and its event in the
		// same transaction.
		if oldStatus == StatusUnhealthy {
			recoverSQL := fmt.Sprintf(
				"UPDATE agents SET status = %s WHERE agent_id = %s AND status = %s",
				s.db.GetParameterPlaceholder(1), s.db.GetParameterPlaceholder(2),
				s.db.GetParameterPlaceholder(3))
			res, err := tx.ExecContext(ctx, recoverSQL, StatusHealthy, agentID, StatusUnhealthy)
			if err != nil {
				return nil, fmt.Errorf("failed to recover agent status: %w", err)
			}
			if affected, _ := res.RowsAffected(); affected == 1 {
				if err := s.recordEvent(ctx, tx, EventHeartbeatRecover, agentID, map[string]interface{}{
					"old_status": StatusUnhealthy,
					"new_status": StatusHealthy,
				}, now); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}

	resolved, err := s.resolveForSpecs(ctx, req.Dependencies)
	if err != nil {
		s.logger.Warning("Failed to resolve dependencies for agent %s: %v", agentID, err)
		resolved = make(map[string]*ResolvedRef)
	}

	s.logger.Info("Agent %s registered: %d capabilities, %d dependencies",
		agentID, len(req.Capabilities), len(req.Dependencies))

	return &AgentRegistrationResponse{
		Status:    "success",
		AgentID:   agentID,
		Timestamp: now.Format(time.RFC3339),
		Message:   "Agent registered successfully",
		Resolved:  resolved,
	}, nil
}

// replaceCapabilitySet swaps the agent's capability and dependency-spec
// rows inside the caller's transaction (delete-then-insert).
func (s *Service) replaceCapabilitySet(ctx context.Context, tx *sql.Tx, agentID string, req *AgentRegistrationRequest, now time.Time) error {
	deleteCapsSQL := fmt.Sprintf(
		"DELETE FROM capabilities WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	if _, err := tx.ExecContext(ctx, deleteCapsSQL, agentID); err != nil {
		return fmt.Errorf("failed to clear capabilities: %w", err)
	}

	deleteSpecsSQL := fmt.Sprintf(
		"DELETE FROM dependency_specs WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	if _, err := tx.ExecContext(ctx, deleteSpecsSQL, agentID); err != nil {
		return fmt.Errorf("failed to clear dependency specs: %w", err)
	}

	for _, cap := range req.Capabilities {
		tags := cap.Tags
		if tags == nil {
			tags = []string{}
		}
		tagsJSON, err := json.Marshal(tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags for capability %s: %w", cap.Name, err)
		}

		version := cap.Version
		if version == "" {
			version = "1.0.0"
		}

		insertCapSQL := fmt.Sprintf(`
			INSERT INTO capabilities (agent_id, name, version, description, tags, created_at, updated_at)
			VALUES (%s)`, s.db.BuildParameterList(7))
		if _, err := tx.ExecContext(ctx, insertCapSQL,
			agentID, cap.Name, version, cap.Description, string(tagsJSON), now, now); err != nil {
			return fmt.Errorf("failed to insert capability %s: %w", cap.Name, err)
		}
	}

	for i, dep := range req.Dependencies {
		tagExprJSON, err := json.Marshal(dep.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tag expression for dependency %s: %w", dep.Capability, err)
		}
		fallback := dep.Fallback
		if fallback == nil {
			fallback = []DependencySpec{}
		}
		fallbackJSON, err := json.Marshal(fallback)
		if err != nil {
			return fmt.Errorf("failed to marshal fallback chain for dependency %s: %w", dep.Capability, err)
		}

		insertSpecSQL := fmt.Sprintf(`
			INSERT INTO dependency_specs (agent_id, position, capability, version_constraint, tag_expr, fallback, created_at)
			VALUES (%s)`, s.db.BuildParameterList(7))
		if _, err := tx.ExecContext(ctx, insertSpecSQL,
			agentID, i, dep.Capability, dep.Version, string(tagExprJSON), string(fallbackJSON), now); err != nil {
			return fmt.Errorf("failed to insert dependency spec %s: %w", dep.Capability, err)
		}
	}

	return nil
}

// Heartbeat records agent liveness and returns the resolution snapshot
// recomputed against current state. If the agent was unhealthy, the flip to
// healthy and the recovery event commit in one transaction; the conditional
// status predicate makes the event exactly-once even under a racing
// eviction scan.
func (s *Service) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if req == nil || req.AgentID == "" {
		return nil, ValidationError{Field: "agent_id", Message: "agent_id is required"}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	touchSQL := fmt.Sprintf(
		"UPDATE agents SET last_seen = %s, updated_at = %s WHERE agent_id = %s",
		s.db.GetParameterPlaceholder(1), s.db.GetParameterPlaceholder(2),
		s.db.GetParameterPlaceholder(3))
	res, err := tx.ExecContext(ctx, touchSQL, now, now, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("failed to update heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, &NotFoundError{Resource: "agent", ID: req.AgentID}
	}

	recoverSQL := fmt.Sprintf(
		"UPDATE agents SET status = %s WHERE agent_id = %s AND status = %s",
		s.db.GetParameterPlaceholder(1), s.db.GetParameterPlaceholder(2),
		s.db.GetParameterPlaceholder(3))
	res, err = tx.ExecContext(ctx, recoverSQL, StatusHealthy, req.AgentID, StatusUnhealthy)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent status: %w", err)
	}
	if recovered, _ := res.RowsAffected(); recovered == 1 {
		if err := s.recordEvent(ctx, tx, EventHeartbeatRecover, req.AgentID, map[string]interface{}{
			"old_status": StatusUnhealthy,
			"new_status": StatusHealthy,
		}, now); err != nil {
			return nil, err
		}
		s.logger.Info("Agent %s recovered via heartbeat", req.AgentID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit heartbeat: %w", err)
	}

	specs, err := s.loadDependencySpecs(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.resolveForSpecs(ctx, specs)
	if err != nil {
		s.logger.Warning("Failed to resolve dependencies for agent %s: %v", req.AgentID, err)
		resolved = make(map[string]*ResolvedRef)
	}

	return &HeartbeatResponse{
		Status:    "success",
		AgentID:   req.AgentID,
		Timestamp: now.Format(time.RFC3339),
		Message:   "Heartbeat received",
		Resolved:  resolved,
	}, nil
}

// UnregisterAgent removes an agent and its capabilities and emits an
// unregister event, all in one transaction. Dependents are not cascaded;
// they fail to resolve on their next lookup.
func (s *Service) UnregisterAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return ValidationError{Field: "agent_id", Message: "agent_id is required"}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteSpecsSQL := fmt.Sprintf(
		"DELETE FROM dependency_specs WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	if _, err := tx.ExecContext(ctx, deleteSpecsSQL, agentID); err != nil {
		return fmt.Errorf("failed to delete dependency specs: %w", err)
	}

	deleteCapsSQL := fmt.Sprintf(
		"DELETE FROM capabilities WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	if _, err := tx.ExecContext(ctx, deleteCapsSQL, agentID); err != nil {
		return fmt.Errorf("failed to delete capabilities: %w", err)
	}

	deleteAgentSQL := fmt.Sprintf(
		"DELETE FROM agents WHERE agent_id = %s", s.db.GetParameterPlaceholder(1))
	res, err := tx.ExecContext(ctx, deleteAgentSQL, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{Resource: "agent", ID: agentID}
	}

	if err := s.recordEvent(ctx, tx, EventUnregister, agentID, map[string]interface{}{}, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unregister: %w", err)
	}

	s.logger.Info("Agent %s unregistered", agentID)
	return nil
}

// GetAgent returns one agent with its embedded capability set.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*AgentInfo, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	params := &AgentQueryParams{}
	agents, err := s.queryAgentsWithCapabilities(ctx, params, agentID)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, &NotFoundError{Resource: "agent", ID: agentID}
	}
	return &agents[0], nil
}

// ListAgents handles agent discovery with filtering. Agents and their
// capabilities come back from a single denormalized join; no per-agent
// follow-up fetches.
func (s *Service) ListAgents(ctx context.Context, params *AgentQueryParams) (*AgentsListResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if params == nil {
		params = &AgentQueryParams{}
	}

	agents, err := s.queryAgentsWithCapabilities(ctx, params, "")
	if err != nil {
		return nil, err
	}

	return &AgentsListResponse{
		Agents:    agents,
		Count:     len(agents),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// queryAgentsWithCapabilities runs the single-join discovery query shared
// by GetAgent and ListAgents.
func (s *Service) queryAgentsWithCapabilities(ctx context.Context, params *AgentQueryParams, agentID string) ([]AgentInfo, error) {
	query := `
		SELECT a.agent_id, a.name, a.endpoint, a.namespace, a.version, a.status, a.last_seen,
		       c.name, c.version, c.description, c.tags
		FROM agents a
		LEFT JOIN capabilities c ON c.agent_id = a.agent_id`

	var conditions []string
	var args []interface{}
	param := func() string {
		return s.db.GetParameterPlaceholder(len(args))
	}

	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("a.agent_id = %s", param()))
	}
	if params.Status != "" {
		args = append(args, params.Status)
		conditions = append(conditions, fmt.Sprintf("a.status = %s", param()))
	}
	if params.Namespace != "" {
		args = append(args, params.Namespace)
		conditions = append(conditions, fmt.Sprintf("a.namespace = %s", param()))
	}
	if params.Capability != "" {
		args = append(args, params.Capability)
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM capabilities pc WHERE pc.agent_id = a.agent_id AND pc.name = %s)", param()))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += "\n\t\tWHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += "\n\t\tORDER BY a.created_at, a.agent_id, c.name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []AgentInfo
	index := make(map[string]int)

	for rows.Next() {
		var (
			info       AgentInfo
			version    sql.NullString
			lastSeen   time.Time
			capName    sql.NullString
			capVersion sql.NullString
			capDesc    sql.NullString
			capTags    sql.NullString
		)
		if err := rows.Scan(&info.AgentID, &info.Name, &info.Endpoint, &info.Namespace,
			&version, &info.Status, &lastSeen,
			&capName, &capVersion, &capDesc, &capTags); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}

		pos, seen := index[info.AgentID]
		if !seen {
			info.Version = version.String
			info.LastSeen = lastSeen.UTC().Format(time.RFC3339)
			info.Capabilities = []CapabilitySpec{}
			agents = append(agents, info)
			pos = len(agents) - 1
			index[info.AgentID] = pos
		}

		if capName.Valid {
			var tags []string
			if capTags.Valid {
				if err := json.Unmarshal([]byte(capTags.String), &tags); err != nil {
					tags = []string{}
				}
			}
			agents[pos].Capabilities = append(agents[pos].Capabilities, CapabilitySpec{
				Name:        capName.String,
				Version:     capVersion.String,
				Tags:        tags,
				Description: capDesc.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agent rows: %w", err)
	}

	if agents == nil {
		agents = []AgentInfo{}
	}
	return agents, nil
}

// SearchCapabilities handles capability discovery. The join runs as a
// single query; tag and version-constraint filtering happen in memory over
// the already-fetched rows.
func (s *Service) SearchCapabilities(ctx context.Context, params *CapabilityQueryParams) (*CapabilitiesResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if params == nil {
		params = &CapabilityQueryParams{}
	}

	query := `
		SELECT c.agent_id, a.status, a.endpoint, c.name, c.version, c.description, c.tags
		FROM capabilities c
		JOIN agents a ON a.agent_id = c.agent_id`

	var conditions []string
	var args []interface{}
	param := func() string {
		return s.db.GetParameterPlaceholder(len(args))
	}

	if params.Name != "" {
		args = append(args, params.Name)
		conditions = append(conditions, fmt.Sprintf("c.name = %s", param()))
	}
	if params.AgentStatus != "" {
		args = append(args, params.AgentStatus)
		conditions = append(conditions, fmt.Sprintf("a.status = %s", param()))
	}

	for i, cond := range conditions {
		if i == 0 {
			query += "\n\t\tWHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += "\n\t\tORDER BY a.created_at, c.agent_id, c.name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query capabilities: %w", err)
	}
	defer rows.Close()

	matcher := NewMatcher(s.logger)
	capabilities := []CapabilityInfo{}

	for rows.Next() {
		var (
			info    CapabilityInfo
			desc    sql.NullString
			tagsRaw string
		)
		if err := rows.Scan(&info.AgentID, &info.AgentStatus, &info.Endpoint,
			&info.Name, &info.Version, &desc, &tagsRaw); err != nil {
			return nil, fmt.Errorf("failed to scan capability row: %w", err)
		}
		info.Description = desc.String
		if err := json.Unmarshal([]byte(tagsRaw), &info.Tags); err != nil {
			info.Tags = []string{}
		}

		if len(params.Tags) > 0 && !hasAllTags(info.Tags, params.Tags) {
			continue
		}
		if params.Version != "" && !matcher.MatchVersion(info.Version, params.Version) {
			continue
		}

		capabilities = append(capabilities, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate capability rows: %w", err)
	}

	return &CapabilitiesResponse{
		Capabilities: capabilities,
		Count:        len(capabilities),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// loadCandidatePool fetches the resolver's candidate snapshot: every
// capability owned by a healthy agent, in one join query.
func (s *Service) loadCandidatePool(ctx context.Context) ([]Candidate, error) {
	query := fmt.Sprintf(`
		SELECT c.agent_id, c.name, c.version, c.tags, a.endpoint, a.created_at
		FROM capabilities c
		JOIN agents a ON a.agent_id = c.agent_id
		WHERE a.status = %s
		ORDER BY a.created_at, c.agent_id, c.name`, s.db.GetParameterPlaceholder(1))

	rows, err := s.db.QueryContext(ctx, query, StatusHealthy)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate pool: %w", err)
	}
	defer rows.Close()

	var pool []Candidate
	for rows.Next() {
		var (
			candidate Candidate
			tagsRaw   string
		)
		if err := rows.Scan(&candidate.AgentID, &candidate.Capability, &candidate.Version,
			&tagsRaw, &candidate.Endpoint, &candidate.Registered); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsRaw), &candidate.Tags); err != nil {
			candidate.Tags = []string{}
		}
		pool = append(pool, candidate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidate rows: %w", err)
	}

	return pool, nil
}

// loadDependencySpecs returns an agent's stored dependency specs in
// declaration order.
func (s *Service) loadDependencySpecs(ctx context.Context, agentID string) ([]DependencySpec, error) {
	query := fmt.Sprintf(`
		SELECT capability, version_constraint, tag_expr, fallback
		FROM dependency_specs
		WHERE agent_id = %s
		ORDER BY position`, s.db.GetParameterPlaceholder(1))

	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependency specs: %w", err)
	}
	defer rows.Close()

	var specs []DependencySpec
	for rows.Next() {
		var (
			spec        DependencySpec
			tagExprRaw  string
			fallbackRaw string
		)
		if err := rows.Scan(&spec.Capability, &spec.Version, &tagExprRaw, &fallbackRaw); err != nil {
			return nil, fmt.Errorf("failed to scan dependency spec: %w", err)
		}
		spec.Tags, err = ParseTagExpr([]byte(tagExprRaw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse tag expression for %s: %w", spec.Capability, err)
		}
		if err := json.Unmarshal([]byte(fallbackRaw), &spec.Fallback); err != nil {
			return nil, fmt.Errorf("failed to parse fallback chain for %s: %w", spec.Capability, err)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dependency specs: %w", err)
	}

	return specs, nil
}

// resolveForSpecs computes the resolution snapshot for a set of dependency
// specs against the current healthy pool.
func (s *Service) resolveForSpecs(ctx context.Context, specs []DependencySpec) (map[string]*ResolvedRef, error) {
	if len(specs) == 0 {
		return map[string]*ResolvedRef{}, nil
	}

	pool, err := s.loadCandidatePool(ctx)
	if err != nil {
		return nil, err
	}

	return s.resolver.ResolveAll(specs, pool), nil
}

// Health reports the registry's own liveness, independent of agent health.
func (s *Service) Health(ctx context.Context) map[string]interface{} {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.db.PingContext(ctx); err != nil {
		health["status"] = "unhealthy"
		health["detail"] = err.Error()
		return health
	}

	if stats, err := s.db.GetStats(ctx); err == nil {
		health["store"] = stats
	}

	return health
}

// storedFingerprint recomputes the payload fingerprint from the rows
// currently stored for an agent, inside the registration transaction.
func (s *Service) storedFingerprint(ctx context.Context, tx *sql.Tx, agentID string) (string, error) {
	var (
		name      string
		endpoint  string
		namespace string
		version   sql.NullString
		metadata  string
	)
	selectSQL := fmt.Sprintf(
		"SELECT name, endpoint, namespace, version, metadata FROM agents WHERE agent_id = %s",
		s.db.GetParameterPlaceholder(1))
	if err := tx.QueryRowContext(ctx, selectSQL, agentID).Scan(&name, &endpoint, &namespace, &version, &metadata); err != nil {
		return "", fmt.Errorf("failed to load stored agent: %w", err)
	}

	capsSQL := fmt.Sprintf(`
		SELECT name, version, description, tags FROM capabilities
		WHERE agent_id = %s ORDER BY name`, s.db.GetParameterPlaceholder(1))
	capRows, err := tx.QueryContext(ctx, capsSQL, agentID)
	if err != nil {
		return "", fmt.Errorf("failed to load stored capabilities: %w", err)
	}
	defer capRows.Close()

	var caps []CapabilitySpec
	for capRows.Next() {
		var (
			cap     CapabilitySpec
			desc    sql.NullString
			tagsRaw string
		)
		if err := capRows.Scan(&cap.Name, &cap.Version, &desc, &tagsRaw); err != nil {
			return "", fmt.Errorf("failed to scan stored capability: %w", err)
		}
		cap.Description = desc.String
		if err := json.Unmarshal([]byte(tagsRaw), &cap.Tags); err != nil {
			cap.Tags = []string{}
		}
		caps = append(caps, cap)
	}
	if err := capRows.Err(); err != nil {
		return "", err
	}

	specsSQL := fmt.Sprintf(`
		SELECT capability, version_constraint, tag_expr, fallback
		FROM dependency_specs WHERE agent_id = %s ORDER BY position`,
		s.db.GetParameterPlaceholder(1))
	specRows, err := tx.QueryContext(ctx, specsSQL, agentID)
	if err != nil {
		return "", fmt.Errorf("failed to load stored dependency specs: %w", err)
	}
	defer specRows.Close()

	var deps []DependencySpec
	for specRows.Next() {
		var (
			spec        DependencySpec
			tagExprRaw  string
			fallbackRaw string
		)
		if err := specRows.Scan(&spec.Capability, &spec.Version, &tagExprRaw, &fallbackRaw); err != nil {
			return "", fmt.Errorf("failed to scan stored dependency spec: %w", err)
		}
		if spec.Tags, err = ParseTagExpr([]byte(tagExprRaw)); err != nil {
			return "", err
		}
		if err := json.Unmarshal([]byte(fallbackRaw), &spec.Fallback); err != nil {
			return "", err
		}
		deps = append(deps, spec)
	}
	if err := specRows.Err(); err != nil {
		return "", err
	}

	var meta map[string]interface{}
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		meta = map[string]interface{}{}
	}

	return fingerprint(name, endpoint, namespace, version.String, caps, deps, meta)
}

// payloadFingerprint canonicalizes an incoming registration payload for
// comparison with the stored one.
func payloadFingerprint(req *AgentRegistrationRequest, namespace string) (string, error) {
	return fingerprint(req.Name, req.Endpoint, namespace, req.Version, req.Capabilities, req.Dependencies, req.Metadata)
}

// fingerprint builds a canonical JSON digest of an agent's registered
// payload. Capability order and tag order are irrelevant (set semantics);
// dependency order is significant because it defines fallback priority.
func fingerprint(name, endpoint, namespace, version string, caps []CapabilitySpec, deps []DependencySpec, metadata map[string]interface{}) (string, error) {
	normCaps := make([]CapabilitySpec, len(caps))
	copy(normCaps, caps)
	for i := range normCaps {
		if normCaps[i].Version == "" {
			normCaps[i].Version = "1.0.0"
		}
		tags := make([]string, len(normCaps[i].Tags))
		copy(tags, normCaps[i].Tags)
		sort.Strings(tags)
		normCaps[i].Tags = tags
	}
	sort.Slice(normCaps, func(i, j int) bool { return normCaps[i].Name < normCaps[j].Name })

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if deps == nil {
		deps = []DependencySpec{}
	}
	if normCaps == nil {
		normCaps = []CapabilitySpec{}
	}

	canonical := struct {
		Name         string                 `json:"name"`
		Endpoint     string                 `json:"endpoint"`
		Namespace    string                 `json:"namespace"`
		Version      string                 `json:"version"`
		Capabilities []CapabilitySpec       `json:"capabilities"`
		Dependencies []DependencySpec       `json:"dependencies"`
		Metadata     map[string]interface{} `json:"metadata"`
	}{name, endpoint, namespace, version, normCaps, deps, metadata}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint payload: %w", err)
	}
	return string(data), nil
}
