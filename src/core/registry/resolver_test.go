package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExpr(t *testing.T, raw string) TagExpr {
	t.Helper()
	expr, err := ParseTagExpr([]byte(raw))
	require.NoError(t, err)
	return expr
}

func TestResolve(t *testing.T) {
	resolver := NewResolver(createTestLogger())
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	pool := []Candidate{
		{AgentID: "math-py", Capability: "addition", Version: "1.2.0",
			Tags: []string{"addition", "python"}, Endpoint: "http://math-py:8080", Registered: base},
		{AgentID: "math-ts", Capability: "addition", Version: "1.0.0",
			Tags: []string{"addition", "typescript"}, Endpoint: "http://math-ts:8080", Registered: base.Add(-time.Hour)},
		{AgentID: "dates", Capability: "date_service", Version: "2.1.0",
			Tags: []string{"production"}, Endpoint: "http://dates:8080", Registered: base},
	}

	t.Run("NoCandidates", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{Capability: "missing"}, pool)
		assert.Nil(t, ref)
	})

	t.Run("SimpleCapabilityMatch", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{Capability: "date_service"}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "dates", ref.AgentID)
		assert.Equal(t, "http://dates:8080", ref.Endpoint)
		assert.Equal(t, StatusHealthy, ref.Status)
	})

	t.Run("OrPreferenceBeatsRegistrationOrder", func(t *testing.T) {
		// math-ts registered earlier, but the spec prefers python.
		ref := resolver.Resolve(DependencySpec{
			Capability: "addition",
			Tags:       testExpr(t, `["addition", ["python", "typescript"]]`),
		}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "math-py", ref.AgentID)
	})

	t.Run("SecondAlternativeWhenFirstAbsent", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{
			Capability: "addition",
			Tags:       testExpr(t, `["addition", ["rust", "typescript"]]`),
		}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "math-ts", ref.AgentID)
	})

	t.Run("EarliestRegistrationBreaksEqualRank", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{Capability: "addition"}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "math-ts", ref.AgentID, "earlier registration wins when ranks tie")
	})

	t.Run("AgentIDBreaksIdenticalTimestamps", func(t *testing.T) {
		twins := []Candidate{
			{AgentID: "provider-b", Capability: "echo", Version: "1.0.0", Registered: base},
			{AgentID: "provider-a", Capability: "echo", Version: "1.0.0", Registered: base},
		}
		ref := resolver.Resolve(DependencySpec{Capability: "echo"}, twins)
		require.NotNil(t, ref)
		assert.Equal(t, "provider-a", ref.AgentID)
	})

	t.Run("VersionConstraintFilters", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{Capability: "addition", Version: ">=1.1.0"}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "math-py", ref.AgentID)
	})
}

func TestResolveFallbacks(t *testing.T) {
	resolver := NewResolver(createTestLogger())
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	pool := []Candidate{
		{AgentID: "backup", Capability: "translation_basic", Version: "1.0.0",
			Endpoint: "http://backup:8080", Registered: base},
		{AgentID: "last-resort", Capability: "echo", Version: "1.0.0",
			Endpoint: "http://echo:8080", Registered: base},
	}

	t.Run("PrimaryPreferredWhenAvailable", func(t *testing.T) {
		withPrimary := append([]Candidate{
			{AgentID: "prime", Capability: "translation", Version: "2.0.0",
				Endpoint: "http://prime:8080", Registered: base},
		}, pool...)

		ref := resolver.Resolve(DependencySpec{
			Capability: "translation",
			Fallback:   []DependencySpec{{Capability: "translation_basic"}},
		}, withPrimary)
		require.NotNil(t, ref)
		assert.Equal(t, "prime", ref.AgentID)
	})

	t.Run("FallbackUsedWhenPrimaryUnavailable", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{
			Capability: "translation",
			Fallback:   []DependencySpec{{Capability: "translation_basic"}},
		}, pool)
		require.NotNil(t, ref)
		assert.Equal(t, "backup", ref.AgentID)
		assert.Equal(t, "translation_basic", ref.Capability)
	})

	t.Run("NestedFallbacksFlattenDepthFirst", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{
			Capability: "translation",
			Fallback: []DependencySpec{
				{
					Capability: "translation_premium",
					Fallback:   []DependencySpec{{Capability: "echo"}},
				},
				{Capability: "translation_basic"},
			},
		}, pool)
		require.NotNil(t, ref)
		// translation and translation_premium miss; premium's own fallback
		// (echo) is tried before the sibling translation_basic.
		assert.Equal(t, "last-resort", ref.AgentID)
	})

	t.Run("WholeChainExhausted", func(t *testing.T) {
		ref := resolver.Resolve(DependencySpec{
			Capability: "translation",
			Fallback:   []DependencySpec{{Capability: "also_missing"}},
		}, pool)
		assert.Nil(t, ref)
	})
}

func TestResolveAll(t *testing.T) {
	resolver := NewResolver(createTestLogger())
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	pool := []Candidate{
		{AgentID: "dates", Capability: "date_service", Version: "1.0.0",
			Endpoint: "http://dates:8080", Registered: base},
	}

	specs := []DependencySpec{
		{Capability: "date_service"},
		{Capability: "weather_service"},
	}

	resolved := resolver.ResolveAll(specs, pool)
	require.Len(t, resolved, 2)

	require.NotNil(t, resolved["date_service"])
	assert.Equal(t, "dates", resolved["date_service"].AgentID)

	// Unresolved dependencies appear explicitly as null, not omitted.
	ref, present := resolved["weather_service"]
	assert.True(t, present)
	assert.Nil(t, ref)
}
