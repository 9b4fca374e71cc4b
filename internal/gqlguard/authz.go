package gqlguard

import (
	"fmt"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// AuthzRules configures the authorization pre-check: which root fields may
// be requested without a principal, and whether ambiguous unnamed documents
// are tolerated. Read-only at enforcement time.
type AuthzRules struct {
	PublicQueries          map[string]bool
	PublicMutations        map[string]bool
	AllowUnnamedOperations bool
}

// EnforceAuthz re-parses the query independently of the security pass and
// verifies that every private operation comes with a principal.
// authenticated is only invoked when a private operation is actually
// selected, so callers may back it with a session or token lookup.
func EnforceAuthz(query, operationName string, rules AuthzRules, authenticated func() bool) error {
	doc, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return authzViolation(CodeAuthParseError,
			"query could not be parsed",
			map[string]interface{}{"error": err.Error()})
	}
	if len(doc.Definitions) == 0 {
		return authzViolation(CodeAuthParseError,
			"query contains no definitions",
			map[string]interface{}{})
	}

	operations, _ := splitDefinitions(doc)

	selected := operations
	if operationName == "" {
		if len(operations) > 1 && !rules.AllowUnnamedOperations {
			return authzViolation(CodeAuthParseError,
				"operationName is required when the document defines multiple operations",
				map[string]interface{}{"operation_count": len(operations)})
		}
	} else {
		selected = selectByName(operations, operationName)
		if len(selected) == 0 {
			return authzViolation(CodeAuthParseError,
				fmt.Sprintf("operation %q not found in document", operationName),
				map[string]interface{}{"operation_name": operationName})
		}
	}

	for _, op := range selected {
		if rules.operationIsPublic(op) {
			continue
		}
		if authenticated != nil && authenticated() {
			return nil
		}
		return authzViolation(CodeAuthRequired,
			"authentication required for this operation",
			map[string]interface{}{"operation": describeOperation(op)})
	}
	return nil
}

// operationIsPublic reports whether every root-level field of the operation
// is on the public allow-list for its kind. Subscriptions are never public,
// and a root-level fragment defeats classification, so it counts as
// private.
func (r AuthzRules) operationIsPublic(op *ast.OperationDefinition) bool {
	var allowed map[string]bool
	switch op.Operation {
	case ast.OperationTypeQuery:
		allowed = r.PublicQueries
	case ast.OperationTypeMutation:
		allowed = r.PublicMutations
	default:
		return false
	}

	if op.SelectionSet == nil || len(op.SelectionSet.Selections) == 0 {
		return false
	}
	for _, sel := range op.SelectionSet.Selections {
		field, ok := sel.(*ast.Field)
		if !ok || field.Name == nil || !allowed[field.Name.Value] {
			return false
		}
	}
	return true
}

func describeOperation(op *ast.OperationDefinition) string {
	if op.Name != nil && op.Name.Value != "" {
		return fmt.Sprintf("%s %s", op.Operation, op.Name.Value)
	}
	return op.Operation
}
