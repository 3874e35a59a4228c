package registry

import (
	"time"

	"github.com/Masterminds/semver/v3"

	"agent-mesh/src/core/logger"
)

// Candidate represents a potential dependency provider: one capability row
// joined with its healthy owning agent.
type Candidate struct {
	AgentID    string
	Capability string
	Version    string
	Tags       []string
	Endpoint   string
	Registered time.Time
}

// MatchRank orders candidates that all satisfy the same tag expression.
// picks holds, per OR group in declaration order, the index of the first
// alternative the candidate satisfied; lower indexes are preferred, compared
// left to right. bonus counts preferred-tag ("+") hits and breaks pick ties.
type MatchRank struct {
	picks []int
	bonus int
}

// Better reports whether r is a strictly better match than other.
func (r MatchRank) Better(other MatchRank) bool {
	n := len(r.picks)
	if len(other.picks) < n {
		n = len(other.picks)
	}
	for i := 0; i < n; i++ {
		if r.picks[i] != other.picks[i] {
			return r.picks[i] < other.picks[i]
		}
	}
	return r.bonus > other.bonus
}

// Matcher centralizes version and tag matching for the resolver and the
// capability search endpoint.
type Matcher struct {
	logger *logger.Logger
}

// NewMatcher creates a new Matcher instance.
func NewMatcher(logger *logger.Logger) *Matcher {
	return &Matcher{logger: logger}
}

// MatchVersion checks if a provider version satisfies a consumer's version
// constraint. Supports full semver constraint syntax: =, !=, >, <, >=, <=,
// ~, ^, ranges.
//
// Rules:
//   - Empty constraint matches any version (including empty)
//   - Empty version only matches the empty constraint
//   - Non-semver input falls back to exact string comparison
func (m *Matcher) MatchVersion(version, constraint string) bool {
	if constraint == "" {
		return true
	}
	if version == "" {
		return false
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		if m.logger != nil {
			m.logger.Debug("Invalid semver version '%s': %v, falling back to string comparison", version, err)
		}
		return version == constraint
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		if m.logger != nil {
			m.logger.Debug("Invalid semver constraint '%s': %v, falling back to string comparison", constraint, err)
		}
		return version == constraint
	}

	return c.Check(v)
}

// MatchTags evaluates a tag expression against a provider's tag set.
// Returns (matches, rank) where rank orders equally-valid providers.
//
// Literal terms: no prefix means required, "+" preferred (bonus when
// present), "-" excluded (hard failure when present). An OR group passes
// when at least one non-excluded alternative is present; the index of the
// leftmost satisfied alternative becomes the group's pick.
func (m *Matcher) MatchTags(providerTags []string, expr TagExpr) (bool, MatchRank) {
	rank := MatchRank{}

	for _, term := range expr.Terms {
		if term.Alternatives == nil {
			tag := term.Tag
			if tag == "" {
				continue
			}
			switch tag[0] {
			case '-':
				if excluded := tag[1:]; excluded != "" && containsTag(providerTags, excluded) {
					return false, MatchRank{}
				}
			case '+':
				if preferred := tag[1:]; preferred != "" && containsTag(providerTags, preferred) {
					rank.bonus++
				}
			default:
				if !containsTag(providerTags, tag) {
					return false, MatchRank{}
				}
			}
			continue
		}

		matchedIdx := -1
		selectable := false
		for i, alt := range term.Alternatives {
			if alt == "" {
				continue
			}
			switch alt[0] {
			case '-':
				// Exclusions inside a group are filters, not alternatives.
				if excluded := alt[1:]; excluded != "" && containsTag(providerTags, excluded) {
					return false, MatchRank{}
				}
			case '+':
				selectable = true
				if preferred := alt[1:]; preferred != "" && containsTag(providerTags, preferred) && matchedIdx < 0 {
					matchedIdx = i
					rank.bonus++
				}
			default:
				selectable = true
				if containsTag(providerTags, alt) && matchedIdx < 0 {
					matchedIdx = i
				}
			}
		}

		// A group made purely of exclusions constrains without selecting.
		if !selectable {
			continue
		}
		if matchedIdx < 0 {
			return false, MatchRank{}
		}
		rank.picks = append(rank.picks, matchedIdx)
	}

	return true, rank
}

// MatchCandidate checks if a candidate satisfies a dependency spec.
func (m *Matcher) MatchCandidate(candidate Candidate, spec DependencySpec) (bool, MatchRank) {
	if candidate.Capability != spec.Capability {
		return false, MatchRank{}
	}

	if spec.Version != "" && !m.MatchVersion(candidate.Version, spec.Version) {
		return false, MatchRank{}
	}

	return m.MatchTags(candidate.Tags, spec.Tags)
}

// containsTag checks if a tag exists in a slice of tags.
func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// hasAllTags checks if all required tags are present in available tags.
// Simple AND logic used by the capability search endpoint.
func hasAllTags(available, required []string) bool {
	for _, req := range required {
		if !containsTag(available, req) {
			return false
		}
	}
	return true
}
