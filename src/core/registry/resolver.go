package registry

import (
	"agent-mesh/src/core/logger"
)

// Resolver matches dependency specs against a candidate pool. It is pure:
// it never touches the store, only the snapshot handed to it, which keeps it
// safe under concurrent request handlers and trivially testable.
type Resolver struct {
	matcher *Matcher
	logger  *logger.Logger
}

// NewResolver creates a resolver.
func NewResolver(logger *logger.Logger) *Resolver {
	return &Resolver{
		matcher: NewMatcher(logger),
		logger:  logger,
	}
}

// Resolve returns the best provider for a dependency spec, walking the
// fallback chain strictly left to right when the primary spec does not
// match. A nil result means unresolved, which is a normal data outcome, not
// an error.
func (r *Resolver) Resolve(spec DependencySpec, pool []Candidate) *ResolvedRef {
	for _, entry := range flattenChain(spec) {
		if ref := r.resolveOne(entry, pool); ref != nil {
			return ref
		}
		if r.logger != nil {
			r.logger.Debug("No healthy provider for %s (version: %q, tags: %s), trying next in chain",
				entry.Capability, entry.Version, entry.Tags)
		}
	}
	return nil
}

// resolveOne applies the matching pipeline for a single spec: capability
// name, version constraint, tag expression, then deterministic selection.
func (r *Resolver) resolveOne(spec DependencySpec, pool []Candidate) *ResolvedRef {
	if spec.Capability == "" {
		return nil
	}

	var best *Candidate
	var bestRank MatchRank

	for i := range pool {
		candidate := pool[i]
		ok, rank := r.matcher.MatchCandidate(candidate, spec)
		if !ok {
			continue
		}
		if best == nil || rank.Better(bestRank) ||
			(!bestRank.Better(rank) && earlierCandidate(candidate, *best)) {
			best = &pool[i]
			bestRank = rank
		}
	}

	if best == nil {
		return nil
	}

	return &ResolvedRef{
		AgentID:    best.AgentID,
		Capability: best.Capability,
		Version:    best.Version,
		Endpoint:   best.Endpoint,
		Status:     StatusHealthy,
	}
}

// ResolveAll computes the full resolution map for an agent's declared
// dependency specs; the map is keyed by the primary spec's capability name.
// Unresolved dependencies appear as explicit nil entries so consumers can
// degrade gracefully.
func (r *Resolver) ResolveAll(specs []DependencySpec, pool []Candidate) map[string]*ResolvedRef {
	resolved := make(map[string]*ResolvedRef, len(specs))
	for _, spec := range specs {
		resolved[spec.Capability] = r.Resolve(spec, pool)
	}
	return resolved
}

// flattenChain linearizes a spec and its fallback chain depth-first, which
// fixes the chain tie-break as a firm left-to-right priority.
func flattenChain(spec DependencySpec) []DependencySpec {
	chain := []DependencySpec{spec}
	for _, fb := range spec.Fallback {
		chain = append(chain, flattenChain(fb)...)
	}
	return chain
}

// earlierCandidate is the stability tie-break among equally-ranked
// providers: earliest registration first, agent id as the final arbiter, so
// repeated resolutions never flap between equally-valid providers.
func earlierCandidate(a, b Candidate) bool {
	if !a.Registered.Equal(b.Registered) {
		return a.Registered.Before(b.Registered)
	}
	return a.AgentID < b.AgentID
}
