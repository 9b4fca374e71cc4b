package gqlguard

import (
	"fmt"
	"sync/atomic"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// Limits is one immutable snapshot of the security thresholds. Copies are
// cheap; enforcement always works against a single snapshot so a concurrent
// update can never be observed half-applied.
type Limits struct {
	MaxQueryBytes      int
	MaxDepth           int
	MaxComplexity      int
	MaxOperations      int
	MaxListMultiplier  int
	AllowIntrospection bool
}

// clamped returns a copy with every threshold raised to at least 1.
// Non-positive limits are never stored.
func (l Limits) clamped() Limits {
	if l.MaxQueryBytes < 1 {
		l.MaxQueryBytes = 1
	}
	if l.MaxDepth < 1 {
		l.MaxDepth = 1
	}
	if l.MaxComplexity < 1 {
		l.MaxComplexity = 1
	}
	if l.MaxOperations < 1 {
		l.MaxOperations = 1
	}
	if l.MaxListMultiplier < 1 {
		l.MaxListMultiplier = 1
	}
	return l
}

// SecurityPolicy holds the process-wide limits behind an atomic pointer.
// Readers take a Snapshot; UpdateLimits swaps the whole snapshot, so there
// is no lock on the request path.
type SecurityPolicy struct {
	limits atomic.Pointer[Limits]
}

// NewSecurityPolicy creates a policy from an initial set of limits,
// clamping non-positive thresholds to 1.
func NewSecurityPolicy(limits Limits) *SecurityPolicy {
	p := &SecurityPolicy{}
	clamped := limits.clamped()
	p.limits.Store(&clamped)
	return p
}

// Snapshot returns the current limits by value.
func (p *SecurityPolicy) Snapshot() Limits {
	return *p.limits.Load()
}

// UpdateLimits replaces the stored limits. Non-positive values are
// substituted with 1 rather than rejected, matching the lenient
// configuration policy. The stored snapshot is returned.
func (p *SecurityPolicy) UpdateLimits(next Limits) Limits {
	clamped := next.clamped()
	p.limits.Store(&clamped)
	return clamped
}

// QueryMetrics is the outcome of a successful analysis. OperationCount
// covers the whole document, while Depth and Complexity cover only the
// operations selected by operationName.
type QueryMetrics struct {
	OperationCount int `json:"operation_count"`
	Depth          int `json:"depth"`
	Complexity     int `json:"complexity"`
	QueryBytes     int `json:"query_bytes"`
}

// Analyze runs the ordered security gates over a raw request: byte size,
// parse, operation count, operation selection, introspection, then depth
// and complexity. The first failing gate returns a *SecurityViolation and
// nothing after it runs.
func (p *SecurityPolicy) Analyze(query, operationName string, variables map[string]interface{}) (*QueryMetrics, error) {
	limits := p.Snapshot()

	queryBytes := len(query)
	if queryBytes > limits.MaxQueryBytes {
		return nil, securityViolation(CodeQueryTooLarge,
			fmt.Sprintf("query of %d bytes exceeds the maximum of %d bytes", queryBytes, limits.MaxQueryBytes),
			map[string]interface{}{
				"query_bytes":     queryBytes,
				"max_query_bytes": limits.MaxQueryBytes,
			})
	}

	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return nil, securityViolation(CodeParseError,
			"query could not be parsed",
			map[string]interface{}{"error": err.Error()})
	}
	// The parser accepts an empty source as an empty document; the
	// grammar requires at least one definition.
	if len(doc.Definitions) == 0 {
		return nil, securityViolation(CodeParseError,
			"query contains no definitions",
			map[string]interface{}{})
	}

	operations, fragments := splitDefinitions(doc)

	if len(operations) > limits.MaxOperations {
		return nil, securityViolation(CodeOperationLimitExceeded,
			fmt.Sprintf("document defines %d operations, the maximum is %d", len(operations), limits.MaxOperations),
			map[string]interface{}{
				"operation_count": len(operations),
				"max_operations":  limits.MaxOperations,
			})
	}

	selected := operations
	if operationName != "" {
		selected = selectByName(operations, operationName)
		if len(selected) == 0 {
			return nil, securityViolation(CodeOperationNotFound,
				fmt.Sprintf("operation %q not found in document", operationName),
				map[string]interface{}{"operation_name": operationName})
		}
	}

	if !limits.AllowIntrospection {
		if field := findIntrospectionField(selected); field != "" {
			return nil, securityViolation(CodeIntrospectionDisabled,
				"introspection is disabled",
				map[string]interface{}{"field": field})
		}
	}

	a := &analyzer{
		fragments:         fragments,
		variables:         variables,
		maxListMultiplier: limits.MaxListMultiplier,
	}
	depth, complexity := a.analyzeOperations(selected)

	if depth > limits.MaxDepth {
		return nil, securityViolation(CodeDepthLimitExceeded,
			fmt.Sprintf("query depth %d exceeds the maximum of %d", depth, limits.MaxDepth),
			map[string]interface{}{
				"depth":     depth,
				"max_depth": limits.MaxDepth,
			})
	}

	if complexity > limits.MaxComplexity {
		return nil, securityViolation(CodeComplexityLimitExceeded,
			fmt.Sprintf("query complexity %d exceeds the maximum of %d", complexity, limits.MaxComplexity),
			map[string]interface{}{
				"complexity":     complexity,
				"max_complexity": limits.MaxComplexity,
			})
	}

	return &QueryMetrics{
		OperationCount: len(operations),
		Depth:          depth,
		Complexity:     complexity,
		QueryBytes:     queryBytes,
	}, nil
}

// splitDefinitions separates a parsed document into its operations and a
// fragment table keyed by fragment name.
func splitDefinitions(doc *ast.Document) ([]*ast.OperationDefinition, map[string]*ast.FragmentDefinition) {
	var operations []*ast.OperationDefinition
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			operations = append(operations, d)
		case *ast.FragmentDefinition:
			if d.Name != nil {
				fragments[d.Name.Value] = d
			}
		}
	}
	return operations, fragments
}

// selectByName filters operations down to those whose name matches.
func selectByName(operations []*ast.OperationDefinition, name string) []*ast.OperationDefinition {
	var selected []*ast.OperationDefinition
	for _, op := range operations {
		if op.Name != nil && op.Name.Value == name {
			selected = append(selected, op)
		}
	}
	return selected
}

// findIntrospectionField reports the first __schema or __type field in the
// selection trees of the given operations, descending through fields and
// inline fragments. Returns "" when none is present.
func findIntrospectionField(operations []*ast.OperationDefinition) string {
	for _, op := range operations {
		if field := introspectionFieldIn(op.SelectionSet); field != "" {
			return field
		}
	}
	return ""
}

func introspectionFieldIn(selSet *ast.SelectionSet) string {
	if selSet == nil {
		return ""
	}
	for _, sel := range selSet.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name != nil && (s.Name.Value == "__schema" || s.Name.Value == "__type") {
				return s.Name.Value
			}
			if field := introspectionFieldIn(s.SelectionSet); field != "" {
				return field
			}
		case *ast.InlineFragment:
			if field := introspectionFieldIn(s.SelectionSet); field != "" {
				return field
			}
		}
	}
	return ""
}
