package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// AgentRegistrationValidator provides validation for agent registration.
type AgentRegistrationValidator struct {
	agentNamePattern       *regexp.Regexp
	capabilityNamePattern  *regexp.Regexp
	semanticVersionPattern *regexp.Regexp
}

// NewAgentRegistrationValidator creates a new validator instance.
func NewAgentRegistrationValidator() *AgentRegistrationValidator {
	return &AgentRegistrationValidator{
		// Kubernetes-style name validation
		agentNamePattern: regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`),
		// Capability name validation
		capabilityNamePattern: regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`),
		// Semantic version validation
		semanticVersionPattern: regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9-]+)?$`),
	}
}

// ValidateAgentRegistration validates an agent registration request.
// Rejected requests cause no state change.
func (v *AgentRegistrationValidator) ValidateAgentRegistration(req *AgentRegistrationRequest) error {
	if req == nil {
		return ValidationError{Field: "request", Message: "request cannot be nil"}
	}

	if req.AgentID != "" {
		if err := v.validateAgentID(req.AgentID); err != nil {
			return err
		}
	}

	if err := v.validateAgentName(req.Name); err != nil {
		return err
	}

	if err := v.validateEndpoint(req.Endpoint); err != nil {
		return err
	}

	if req.Namespace != "" {
		if err := v.validateNamespace(req.Namespace); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(req.Capabilities))
	for i, cap := range req.Capabilities {
		if err := v.validateCapabilityName(cap.Name); err != nil {
			return ValidationError{
				Field:   fmt.Sprintf("capabilities[%d].name", i),
				Message: err.Error(),
			}
		}
		if seen[cap.Name] {
			return ValidationError{
				Field:   fmt.Sprintf("capabilities[%d].name", i),
				Message: fmt.Sprintf("duplicate capability name %q: names must be unique within an agent", cap.Name),
			}
		}
		seen[cap.Name] = true

		if cap.Version != "" {
			if err := v.validateSemanticVersion(cap.Version); err != nil {
				return ValidationError{
					Field:   fmt.Sprintf("capabilities[%d].version", i),
					Message: err.Error(),
				}
			}
		}
	}

	for i, dep := range req.Dependencies {
		if err := v.validateDependencySpec(dep, fmt.Sprintf("dependencies[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

func (v *AgentRegistrationValidator) validateDependencySpec(dep DependencySpec, field string) error {
	if dep.Capability == "" {
		return ValidationError{Field: field + ".capability", Message: "capability is required"}
	}
	if !v.capabilityNamePattern.MatchString(dep.Capability) {
		return ValidationError{
			Field:   field + ".capability",
			Message: fmt.Sprintf("invalid capability name %q", dep.Capability),
		}
	}
	for i, fb := range dep.Fallback {
		if err := v.validateDependencySpec(fb, fmt.Sprintf("%s.fallback[%d]", field, i)); err != nil {
			return err
		}
	}
	return nil
}

func (v *AgentRegistrationValidator) validateAgentID(agentID string) error {
	if len(agentID) > 253 {
		return ValidationError{Field: "agent_id", Message: "agent_id must be 253 characters or less"}
	}
	if !v.agentNamePattern.MatchString(agentID) {
		return ValidationError{
			Field:   "agent_id",
			Message: "agent_id must consist of lowercase alphanumeric characters or '-', and must start and end with an alphanumeric character",
		}
	}
	return nil
}

func (v *AgentRegistrationValidator) validateAgentName(name string) error {
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > 253 {
		return ValidationError{Field: "name", Message: "name must be 253 characters or less"}
	}
	return nil
}

func (v *AgentRegistrationValidator) validateNamespace(namespace string) error {
	if len(namespace) > 63 {
		return ValidationError{Field: "namespace", Message: "namespace must be 63 characters or less"}
	}
	if !v.agentNamePattern.MatchString(namespace) {
		return ValidationError{
			Field:   "namespace",
			Message: "namespace must consist of lowercase alphanumeric characters or '-', and must start and end with an alphanumeric character",
		}
	}
	return nil
}

func (v *AgentRegistrationValidator) validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return ValidationError{Field: "endpoint", Message: "endpoint is required"}
	}

	// stdio:// endpoints carry an agent identifier, not a host.
	if strings.HasPrefix(endpoint, "stdio://") {
		if len(endpoint) <= len("stdio://") {
			return ValidationError{Field: "endpoint", Message: "stdio endpoint must include an identifier"}
		}
		return nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return ValidationError{Field: "endpoint", Message: fmt.Sprintf("invalid endpoint URL: %v", err)}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "grpc" {
		return ValidationError{
			Field:   "endpoint",
			Message: fmt.Sprintf("unsupported endpoint scheme %q (expected http, https, grpc, or stdio)", parsed.Scheme),
		}
	}
	if parsed.Host == "" {
		return ValidationError{Field: "endpoint", Message: "endpoint must include a host"}
	}
	return nil
}

func (v *AgentRegistrationValidator) validateCapabilityName(name string) error {
	if name == "" {
		return fmt.Errorf("capability name is required")
	}
	if len(name) > 128 {
		return fmt.Errorf("capability name must be 128 characters or less")
	}
	if !v.capabilityNamePattern.MatchString(name) {
		return fmt.Errorf("capability name %q must start with a letter and contain only letters, digits, '_' or '-'", name)
	}
	return nil
}

func (v *AgentRegistrationValidator) validateSemanticVersion(version string) error {
	if !v.semanticVersionPattern.MatchString(version) {
		return fmt.Errorf("version %q is not a valid semantic version (expected MAJOR.MINOR.PATCH)", version)
	}
	return nil
}
