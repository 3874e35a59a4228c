package registry

import "fmt"

// Agent status values. The health monitor is the only writer of the
// healthy→unhealthy transition; heartbeat owns unhealthy→healthy.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// Registry event types, one per real state transition.
const (
	EventRegister         = "register"
	EventUpdate           = "update"
	EventHeartbeatRecover = "heartbeat-recover"
	EventUnhealthy        = "unhealthy"
	EventExpire           = "expire"
	EventUnregister       = "unregister"
)

// NotFoundError signals a reference to an agent that is not registered,
// distinct from transient store failure. Callers are expected to re-register.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ValidationError represents a rejected request field. No state changes when
// one is returned.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RegistryConfig holds registry-specific configuration.
type RegistryConfig struct {
	DefaultTimeoutThreshold  int // seconds without heartbeat before unhealthy
	DefaultEvictionThreshold int // seconds without heartbeat before eviction
	HealthCheckInterval      int // seconds between health monitor ticks
	RequestTimeout           int // seconds, bound on store work per request
}

// DefaultServiceConfig returns the default registry configuration.
func DefaultServiceConfig() *RegistryConfig {
	return &RegistryConfig{
		DefaultTimeoutThreshold:  60,
		DefaultEvictionThreshold: 120,
		HealthCheckInterval:      10,
		RequestTimeout:           10,
	}
}

// CapabilitySpec is a named, versioned, tagged unit of functionality an
// agent offers.
type CapabilitySpec struct {
	Name        string   `json:"name" binding:"required"`
	Version     string   `json:"version"`
	Tags        []string `json:"tags"`
	Description string   `json:"description,omitempty"`
}

// DependencySpec is a consumer's declared need for a capability: name plus
// version constraint plus boolean tag expression, optionally with an ordered
// fallback chain tried when the primary spec is unresolved.
type DependencySpec struct {
	Capability string           `json:"capability" binding:"required"`
	Version    string           `json:"version,omitempty"` // constraint: exact / range / empty = any
	Tags       TagExpr          `json:"tags,omitempty"`
	Fallback   []DependencySpec `json:"fallback,omitempty"`
}

// ResolvedRef is the currently chosen provider for a dependency.
type ResolvedRef struct {
	AgentID    string `json:"agent_id"`
	Capability string `json:"capability"`
	Version    string `json:"version"`
	Endpoint   string `json:"endpoint"`
	Status     string `json:"status"`
}

// AgentRegistrationRequest registers (or re-registers) an agent with its
// full capability and dependency description. An empty agent_id gets one
// assigned by the registry.
type AgentRegistrationRequest struct {
	AgentID      string                 `json:"agent_id"`
	Name         string                 `json:"name" binding:"required"`
	Endpoint     string                 `json:"endpoint" binding:"required"`
	Namespace    string                 `json:"namespace"`
	Version      string                 `json:"version"`
	Capabilities []CapabilitySpec       `json:"capabilities"`
	Dependencies []DependencySpec       `json:"dependencies"`
	Metadata     map[string]interface{} `json:"metadata"`
}

// AgentRegistrationResponse carries the assigned id and the initial
// resolution snapshot, keyed by declared dependency capability. Unresolved
// dependencies are present with a null ref; that is a normal outcome.
type AgentRegistrationResponse struct {
	Status    string                  `json:"status"`
	AgentID   string                  `json:"agent_id"`
	Timestamp string                  `json:"timestamp"`
	Message   string                  `json:"message"`
	Resolved  map[string]*ResolvedRef `json:"resolved"`
}

// HeartbeatRequest is the periodic liveness signal from an agent.
type HeartbeatRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// HeartbeatResponse carries the resolution snapshot recomputed against
// current state.
type HeartbeatResponse struct {
	Status    string                  `json:"status"`
	AgentID   string                  `json:"agent_id"`
	Timestamp string                  `json:"timestamp"`
	Message   string                  `json:"message"`
	Resolved  map[string]*ResolvedRef `json:"resolved"`
}

// AgentInfo is an agent with its embedded capability set, as returned by
// discovery queries.
type AgentInfo struct {
	AgentID      string           `json:"agent_id"`
	Name         string           `json:"name"`
	Endpoint     string           `json:"endpoint"`
	Namespace    string           `json:"namespace"`
	Version      string           `json:"version,omitempty"`
	Status       string           `json:"status"`
	LastSeen     string           `json:"last_seen"`
	Capabilities []CapabilitySpec `json:"capabilities"`
}

// AgentQueryParams filters agent discovery.
type AgentQueryParams struct {
	Status     string `form:"status"`
	Namespace  string `form:"namespace"`
	Capability string `form:"capability"`
}

// AgentsListResponse is the agent discovery result.
type AgentsListResponse struct {
	Agents    []AgentInfo `json:"agents"`
	Count     int         `json:"count"`
	Timestamp string      `json:"timestamp"`
}

// CapabilityQueryParams filters capability discovery.
type CapabilityQueryParams struct {
	Name        string   `form:"name"`
	Version     string   `form:"version"`
	Tags        []string `form:"-"`
	AgentStatus string   `form:"agent_status"`
}

// CapabilityInfo is one capability with its owning agent's status.
type CapabilityInfo struct {
	AgentID     string   `json:"agent_id"`
	AgentStatus string   `json:"agent_status"`
	Endpoint    string   `json:"endpoint"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags"`
}

// CapabilitiesResponse is the capability discovery result.
type CapabilitiesResponse struct {
	Capabilities []CapabilityInfo `json:"capabilities"`
	Count        int              `json:"count"`
	Timestamp    string           `json:"timestamp"`
}

// EventInfo is one entry of the append-only registry event log.
type EventInfo struct {
	ID        int64                  `json:"id"`
	EventType string                 `json:"event_type"`
	AgentID   string                 `json:"agent_id"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// EventsResponse is the audit log query result.
type EventsResponse struct {
	Events    []EventInfo `json:"events"`
	Count     int         `json:"count"`
	Timestamp string      `json:"timestamp"`
}

// ErrorResponse is the JSON error envelope for all endpoints.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
