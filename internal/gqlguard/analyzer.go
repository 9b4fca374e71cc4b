package gqlguard

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
)

// Argument names treated as list-size hints when resolving a field's
// complexity multiplier.
var listArgNames = map[string]bool{
	"first":    true,
	"last":     true,
	"limit":    true,
	"perPage":  true,
	"per_page": true,
	"pageSize": true,
	"size":     true,
}

// analyzer walks the selection sets of the operations picked for this
// request. It carries only read-only state, so a single analyzer value is
// safe to reuse across the recursive calls of one request.
type analyzer struct {
	fragments         map[string]*ast.FragmentDefinition
	variables         map[string]interface{}
	maxListMultiplier int
}

// analyzeOperations computes the maximum depth across the given operations
// and the sum of their complexities. Each operation's root selection set is
// analyzed at depth 0.
func (a *analyzer) analyzeOperations(ops []*ast.OperationDefinition) (depth, complexity int) {
	for _, op := range ops {
		opDepth, opComplexity := a.analyzeSelectionSet(op.SelectionSet, 0, nil)
		if opDepth > depth {
			depth = opDepth
		}
		complexity += opComplexity
	}
	return depth, complexity
}

// analyzeSelectionSet returns (maxDepth, complexity) for one selection set.
// depth is the nesting level already consumed above this set; an empty or
// missing set contributes nothing beyond it. visited holds the fragment
// names already expanded on this branch of the traversal.
func (a *analyzer) analyzeSelectionSet(selSet *ast.SelectionSet, depth int, visited map[string]bool) (int, int) {
	if selSet == nil || len(selSet.Selections) == 0 {
		return depth, 0
	}

	maxDepth := depth
	complexity := 0

	for _, sel := range selSet.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			if s.SelectionSet == nil || len(s.SelectionSet.Selections) == 0 {
				if depth+1 > maxDepth {
					maxDepth = depth + 1
				}
				complexity++
				continue
			}
			childDepth, childComplexity := a.analyzeSelectionSet(s.SelectionSet, depth+1, visited)
			fieldDepth := depth + 1
			if childDepth > fieldDepth {
				fieldDepth = childDepth
			}
			if fieldDepth > maxDepth {
				maxDepth = fieldDepth
			}
			complexity += 1 + childComplexity*a.resolveMultiplier(s)

		case *ast.InlineFragment:
			// Inline fragments select on the same level; they do not
			// add a nesting step.
			fragDepth, fragComplexity := a.analyzeSelectionSet(s.SelectionSet, depth, visited)
			if fragDepth > maxDepth {
				maxDepth = fragDepth
			}
			complexity += fragComplexity

		case *ast.FragmentSpread:
			name := s.Name.Value
			if visited[name] {
				// Already expanded on this branch: a crafted cycle.
				// Skip instead of recursing forever.
				continue
			}
			frag, ok := a.fragments[name]
			if !ok {
				continue
			}
			branch := make(map[string]bool, len(visited)+1)
			for k := range visited {
				branch[k] = true
			}
			branch[name] = true
			fragDepth, fragComplexity := a.analyzeSelectionSet(frag.SelectionSet, depth, branch)
			if fragDepth > maxDepth {
				maxDepth = fragDepth
			}
			complexity += fragComplexity
		}
	}

	return maxDepth, complexity
}

// resolveMultiplier inspects a field's arguments for a list-size hint
// (first, last, limit, perPage, per_page, pageSize, size). The first
// resolvable hint wins and is clamped to [1, maxListMultiplier]; a field
// without a resolvable hint multiplies by 1.
func (a *analyzer) resolveMultiplier(field *ast.Field) int {
	for _, arg := range field.Arguments {
		if arg.Name == nil || !listArgNames[arg.Name.Value] {
			continue
		}
		n, ok := a.resolveIntValue(arg.Value)
		if !ok {
			continue
		}
		if n < 1 {
			return 1
		}
		if n > a.maxListMultiplier {
			return a.maxListMultiplier
		}
		return n
	}
	return 1
}

// resolveIntValue extracts an integer from an argument value, following
// variable references into the request's variable bindings.
func (a *analyzer) resolveIntValue(value ast.Value) (int, bool) {
	switch v := value.(type) {
	case *ast.IntValue:
		n, err := strconv.Atoi(v.Value)
		if err != nil {
			return 0, false
		}
		return n, true
	case *ast.Variable:
		if v.Name == nil {
			return 0, false
		}
		bound, ok := a.variables[v.Name.Value]
		if !ok {
			return 0, false
		}
		return intFromBinding(bound)
	}
	return 0, false
}

// intFromBinding coerces a variable binding to an integer. Integers and
// integer-valued strings count; booleans never do, even though they would
// survive a naive numeric conversion.
func intFromBinding(v interface{}) (int, bool) {
	switch n := v.(type) {
	case bool:
		return 0, false
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
		return 0, false
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}
