package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAgentRegistration(t *testing.T) {
	validator := NewAgentRegistrationValidator()

	valid := func() *AgentRegistrationRequest {
		return &AgentRegistrationRequest{
			AgentID:  "math-agent",
			Name:     "math-agent",
			Endpoint: "http://localhost:9001",
			Capabilities: []CapabilitySpec{
				{Name: "addition", Version: "1.0.0"},
			},
		}
	}

	t.Run("ValidRequest", func(t *testing.T) {
		assert.NoError(t, validator.ValidateAgentRegistration(valid()))
	})

	t.Run("NilRequest", func(t *testing.T) {
		assert.Error(t, validator.ValidateAgentRegistration(nil))
	})

	t.Run("OmittedAgentIDAccepted", func(t *testing.T) {
		req := valid()
		req.AgentID = ""
		assert.NoError(t, validator.ValidateAgentRegistration(req))
	})

	t.Run("BadAgentID", func(t *testing.T) {
		for _, id := range []string{"Upper", "-leading", "trailing-", "with space", strings.Repeat("a", 254)} {
			req := valid()
			req.AgentID = id
			assert.Error(t, validator.ValidateAgentRegistration(req), "agent_id %q", id)
		}
	})

	t.Run("NameRequired", func(t *testing.T) {
		req := valid()
		req.Name = ""
		assert.Error(t, validator.ValidateAgentRegistration(req))
	})

	t.Run("EndpointSchemes", func(t *testing.T) {
		for _, endpoint := range []string{
			"http://localhost:9001",
			"https://svc.example.com",
			"grpc://mesh-node:50051",
			"stdio://inprocess-agent",
		} {
			req := valid()
			req.Endpoint = endpoint
			assert.NoError(t, validator.ValidateAgentRegistration(req), "endpoint %q", endpoint)
		}

		for _, endpoint := range []string{"", "ftp://files", "http://", "stdio://"} {
			req := valid()
			req.Endpoint = endpoint
			assert.Error(t, validator.ValidateAgentRegistration(req), "endpoint %q", endpoint)
		}
	})

	t.Run("DuplicateCapabilityNames", func(t *testing.T) {
		req := valid()
		req.Capabilities = append(req.Capabilities, CapabilitySpec{Name: "addition", Version: "2.0.0"})
		err := validator.ValidateAgentRegistration(req)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Message, "unique")
	})

	t.Run("BadCapabilityVersion", func(t *testing.T) {
		req := valid()
		req.Capabilities[0].Version = "one-point-oh"
		assert.Error(t, validator.ValidateAgentRegistration(req))
	})

	t.Run("PrereleaseVersionAccepted", func(t *testing.T) {
		req := valid()
		req.Capabilities[0].Version = "1.0.0-beta"
		assert.NoError(t, validator.ValidateAgentRegistration(req))
	})

	t.Run("DependencyCapabilityRequired", func(t *testing.T) {
		req := valid()
		req.Dependencies = []DependencySpec{{Capability: ""}}
		assert.Error(t, validator.ValidateAgentRegistration(req))
	})

	t.Run("NestedFallbackValidated", func(t *testing.T) {
		req := valid()
		req.Dependencies = []DependencySpec{{
			Capability: "translation",
			Fallback: []DependencySpec{{
				Capability: "translation_basic",
				Fallback:   []DependencySpec{{Capability: "9starts-with-digit"}},
			}},
		}}
		err := validator.ValidateAgentRegistration(req)
		var validationErr ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Contains(t, validationErr.Field, "fallback")
	})
}
