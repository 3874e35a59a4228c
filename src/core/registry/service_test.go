package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mathAgentRequest() *AgentRegistrationRequest {
	return &AgentRegistrationRequest{
		AgentID:  "math-agent",
		Name:     "math-agent",
		Endpoint: "http://localhost:9001",
		Version:  "1.2.0",
		Capabilities: []CapabilitySpec{
			{Name: "addition", Version: "1.2.0", Tags: []string{"addition", "python"}},
			{Name: "subtraction", Version: "1.2.0", Tags: []string{"subtraction"}},
		},
	}
}

func TestRegisterAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("NewAgent", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		resp, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)
		assert.Equal(t, "success", resp.Status)
		assert.Equal(t, "math-agent", resp.AgentID)

		agent, err := service.GetAgent(ctx, "math-agent")
		require.NoError(t, err)
		assert.Equal(t, StatusHealthy, agent.Status)
		assert.Equal(t, "default", agent.Namespace)
		assert.Len(t, agent.Capabilities, 2)

		count, err := service.countEvents(ctx, "math-agent", EventRegister)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("AssignsIDWhenOmitted", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		req := mathAgentRequest()
		req.AgentID = ""
		resp, err := service.RegisterAgent(ctx, req)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.AgentID)

		_, err = service.GetAgent(ctx, resp.AgentID)
		assert.NoError(t, err)
	})

	t.Run("RejectsInvalidPayload", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		req := mathAgentRequest()
		req.Endpoint = "ftp://nope"
		_, err := service.RegisterAgent(ctx, req)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr)
	})

	t.Run("IdenticalReRegistrationEmitsNoEvent", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)
		_, err = service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		registers, err := service.countEvents(ctx, "math-agent", EventRegister)
		require.NoError(t, err)
		assert.Equal(t, 1, registers)

		updates, err := service.countEvents(ctx, "math-agent", EventUpdate)
		require.NoError(t, err)
		assert.Equal(t, 0, updates)
	})

	t.Run("ChangedPayloadEmitsUpdateEvent", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		req := mathAgentRequest()
		req.Capabilities = append(req.Capabilities, CapabilitySpec{
			Name: "multiplication", Version: "1.0.0", Tags: []string{"multiplication"},
		})
		_, err = service.RegisterAgent(ctx, req)
		require.NoError(t, err)

		updates, err := service.countEvents(ctx, "math-agent", EventUpdate)
		require.NoError(t, err)
		assert.Equal(t, 1, updates)

		agent, err := service.GetAgent(ctx, "math-agent")
		require.NoError(t, err)
		assert.Len(t, agent.Capabilities, 3)
	})

	t.Run("CapabilityOrderDoesNotCountAsChange", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		req := mathAgentRequest()
		req.Capabilities[0], req.Capabilities[1] = req.Capabilities[1], req.Capabilities[0]
		_, err = service.RegisterAgent(ctx, req)
		require.NoError(t, err)

		updates, err := service.countEvents(ctx, "math-agent", EventUpdate)
		require.NoError(t, err)
		assert.Equal(t, 0, updates)
	})

	t.Run("ResolvesDeclaredDependencies", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		consumer := &AgentRegistrationRequest{
			AgentID:  "calculator",
			Name:     "calculator",
			Endpoint: "http://localhost:9002",
			Dependencies: []DependencySpec{
				{Capability: "addition", Version: ">=1.0.0"},
				{Capability: "division"},
			},
		}
		resp, err := service.RegisterAgent(ctx, consumer)
		require.NoError(t, err)

		require.NotNil(t, resp.Resolved["addition"])
		assert.Equal(t, "math-agent", resp.Resolved["addition"].AgentID)
		assert.Equal(t, "http://localhost:9001", resp.Resolved["addition"].Endpoint)

		ref, present := resp.Resolved["division"]
		assert.True(t, present)
		assert.Nil(t, ref)
	})
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownAgent", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.Heartbeat(ctx, &HeartbeatRequest{AgentID: "ghost"})
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
	})

	t.Run("ReturnsFreshResolution", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		consumer := &AgentRegistrationRequest{
			AgentID:  "calculator",
			Name:     "calculator",
			Endpoint: "http://localhost:9002",
			Dependencies: []DependencySpec{
				{Capability: "addition"},
			},
		}
		resp, err := service.RegisterAgent(ctx, consumer)
		require.NoError(t, err)
		assert.Nil(t, resp.Resolved["addition"], "no provider yet")

		_, err = service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		// Provider appeared between heartbeats; the next beat picks it up.
		hb, err := service.Heartbeat(ctx, &HeartbeatRequest{AgentID: "calculator"})
		require.NoError(t, err)
		require.NotNil(t, hb.Resolved["addition"])
		assert.Equal(t, "math-agent", hb.Resolved["addition"].AgentID)
	})

	t.Run("RecoversUnhealthyAgentExactlyOnce", func(t *testing.T) {
		service, cleanup := setupTestService(t)
		defer cleanup()

		_, err := service.RegisterAgent(ctx, mathAgentRequest())
		require.NoError(t, err)

		_, err = service.db.Exec("UPDATE agents SET status = 'unhealthy' WHERE agent_id = 'math-agent'")
		require.NoError(t, err)

		_, err = service.Heartbeat(ctx, &HeartbeatRequest{AgentID: "math-agent"})
		require.NoError(t, err)
		_, err = service.Heartbeat(ctx, &HeartbeatRequest{AgentID: "math-agent"})
		require.NoError(t, err)

		agent, err := service.GetAgent(ctx, "math-agent")
		require.NoError(t, err)
		assert.Equal(t, StatusHealthy, agent.Status)

		recoveries, err := service.countEvents(ctx, "math-agent", EventHeartbeatRecover)
		require.NoError(t, err)
		assert.Equal(t, 1, recoveries, "only the transition logs, not every beat")
	})
}

func TestUnregisterAgent(t *testing.T) {
	ctx := context.Background()

	service, cleanup := setupTestService(t)
	defer cleanup()

	_, err := service.RegisterAgent(ctx, mathAgentRequest())
	require.NoError(t, err)

	require.NoError(t, service.UnregisterAgent(ctx, "math-agent"))

	_, err = service.GetAgent(ctx, "math-agent")
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)

	// Events survive the agent row.
	unregisters, err := service.countEvents(ctx, "math-agent", EventUnregister)
	require.NoError(t, err)
	assert.Equal(t, 1, unregisters)

	err = service.UnregisterAgent(ctx, "math-agent")
	require.ErrorAs(t, err, &notFound)
}

func TestListAgents(t *testing.T) {
	ctx := context.Background()

	service, cleanup := setupTestService(t)
	defer cleanup()

	_, err := service.RegisterAgent(ctx, mathAgentRequest())
	require.NoError(t, err)

	other := &AgentRegistrationRequest{
		AgentID:   "dates",
		Name:      "dates",
		Endpoint:  "http://localhost:9003",
		Namespace: "tools",
		Capabilities: []CapabilitySpec{
			{Name: "date_service", Version: "2.0.0"},
		},
	}
	_, err = service.RegisterAgent(ctx, other)
	require.NoError(t, err)

	t.Run("NoFilter", func(t *testing.T) {
		resp, err := service.ListAgents(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("NamespaceFilter", func(t *testing.T) {
		resp, err := service.ListAgents(ctx, &AgentQueryParams{Namespace: "tools"})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "dates", resp.Agents[0].AgentID)
	})

	t.Run("CapabilityFilter", func(t *testing.T) {
		resp, err := service.ListAgents(ctx, &AgentQueryParams{Capability: "addition"})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "math-agent", resp.Agents[0].AgentID)
		assert.Len(t, resp.Agents[0].Capabilities, 2, "all capabilities embedded, not just the filtered one")
	})

	t.Run("StatusFilterExcludesUnhealthy", func(t *testing.T) {
		_, err := service.db.Exec("UPDATE agents SET status = 'unhealthy' WHERE agent_id = 'dates'")
		require.NoError(t, err)
		defer service.db.Exec("UPDATE agents SET status = 'healthy' WHERE agent_id = 'dates'")

		resp, err := service.ListAgents(ctx, &AgentQueryParams{Status: StatusHealthy})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "math-agent", resp.Agents[0].AgentID)
	})
}

func TestSearchCapabilities(t *testing.T) {
	ctx := context.Background()

	service, cleanup := setupTestService(t)
	defer cleanup()

	_, err := service.RegisterAgent(ctx, mathAgentRequest())
	require.NoError(t, err)

	t.Run("ByName", func(t *testing.T) {
		resp, err := service.SearchCapabilities(ctx, &CapabilityQueryParams{Name: "addition"})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "math-agent", resp.Capabilities[0].AgentID)
	})

	t.Run("ByTags", func(t *testing.T) {
		resp, err := service.SearchCapabilities(ctx, &CapabilityQueryParams{Tags: []string{"python"}})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "addition", resp.Capabilities[0].Name)
	})

	t.Run("ByVersionConstraint", func(t *testing.T) {
		resp, err := service.SearchCapabilities(ctx, &CapabilityQueryParams{
			Name: "addition", Version: ">=2.0.0",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Count)
	})

	t.Run("UnhealthyProvidersFilteredByDefaultStatus", func(t *testing.T) {
		_, err := service.db.Exec("UPDATE agents SET status = 'unhealthy' WHERE agent_id = 'math-agent'")
		require.NoError(t, err)
		defer service.db.Exec("UPDATE agents SET status = 'healthy' WHERE agent_id = 'math-agent'")

		resp, err := service.SearchCapabilities(ctx, &CapabilityQueryParams{
			Name: "addition", AgentStatus: StatusHealthy,
		})
		require.NoError(t, err)
		assert.Equal(t, 0, resp.Count)
	})
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()

	service, cleanup := setupTestService(t)
	defer cleanup()

	_, err := service.RegisterAgent(ctx, mathAgentRequest())
	require.NoError(t, err)
	require.NoError(t, service.UnregisterAgent(ctx, "math-agent"))

	resp, err := service.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Count)

	// Newest first.
	assert.Equal(t, EventUnregister, resp.Events[0].EventType)
	assert.Equal(t, EventRegister, resp.Events[1].EventType)
}
