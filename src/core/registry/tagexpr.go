package registry

import (
	"encoding/json"
	"fmt"
)

// TagExpr is a boolean expression over a provider's tag set. On the wire it
// is a nested JSON list: a flat element is a literal tag that must be
// present (the list is an AND of its elements); an element that is itself a
// list introduces OR among its members, tried left to right.
//
//	["addition", ["python", "typescript"]]
//
// means addition AND (python OR typescript), with python preferred over
// typescript when both are available.
//
// Tag literals support the same operators as plain tags elsewhere in the
// registry: "+tag" marks a preference (bonus when present, never fails) and
// "-tag" an exclusion (fails when present).
type TagExpr struct {
	Terms []TagTerm
}

// TagTerm is one conjunct of a TagExpr: either a single literal tag or an
// ordered group of OR alternatives.
type TagTerm struct {
	Tag          string   // set when Alternatives is nil
	Alternatives []string // OR group, preference order left to right
}

// IsEmpty reports whether the expression has no constraints.
func (e TagExpr) IsEmpty() bool {
	return len(e.Terms) == 0
}

// UnmarshalJSON parses the nested-list wire form.
func (e *TagExpr) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("tag expression must be a JSON array: %w", err)
	}

	terms := make([]TagTerm, 0, len(raw))
	for i, element := range raw {
		switch v := element.(type) {
		case string:
			if v == "" {
				continue
			}
			terms = append(terms, TagTerm{Tag: v})
		case []interface{}:
			alternatives := make([]string, 0, len(v))
			for j, alt := range v {
				tag, ok := alt.(string)
				if !ok {
					return fmt.Errorf("tag expression element %d alternative %d: expected string, got %T", i, j, alt)
				}
				if tag == "" {
					continue
				}
				alternatives = append(alternatives, tag)
			}
			if len(alternatives) == 0 {
				continue
			}
			terms = append(terms, TagTerm{Alternatives: alternatives})
		default:
			return fmt.Errorf("tag expression element %d: expected string or array, got %T", i, element)
		}
	}

	e.Terms = terms
	return nil
}

// MarshalJSON emits the nested-list wire form, round-tripping what was
// declared at registration.
func (e TagExpr) MarshalJSON() ([]byte, error) {
	raw := make([]interface{}, 0, len(e.Terms))
	for _, term := range e.Terms {
		if term.Alternatives != nil {
			raw = append(raw, term.Alternatives)
		} else {
			raw = append(raw, term.Tag)
		}
	}
	return json.Marshal(raw)
}

// String renders the expression for logs.
func (e TagExpr) String() string {
	data, err := json.Marshal(e)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ParseTagExpr parses the nested-list wire form from raw JSON. An empty or
// absent expression matches every provider.
func ParseTagExpr(data []byte) (TagExpr, error) {
	var expr TagExpr
	if len(data) == 0 {
		return expr, nil
	}
	if err := json.Unmarshal(data, &expr); err != nil {
		return TagExpr{}, err
	}
	return expr, nil
}
