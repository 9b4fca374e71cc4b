// Package gqlguard analyzes GraphQL requests before execution: it computes
// depth, complexity and operation counts, enforces configurable limits, and
// performs a public/private authorization pre-check. It never executes the
// query or touches a schema.
package gqlguard

import "fmt"

// Security violation codes, one per enforcement gate.
const (
	CodeQueryTooLarge           = "GRAPHQL_QUERY_TOO_LARGE"
	CodeParseError              = "GRAPHQL_PARSE_ERROR"
	CodeOperationLimitExceeded  = "GRAPHQL_OPERATION_LIMIT_EXCEEDED"
	CodeOperationNotFound       = "GRAPHQL_OPERATION_NOT_FOUND"
	CodeIntrospectionDisabled   = "GRAPHQL_INTROSPECTION_DISABLED"
	CodeDepthLimitExceeded      = "GRAPHQL_DEPTH_LIMIT_EXCEEDED"
	CodeComplexityLimitExceeded = "GRAPHQL_COMPLEXITY_LIMIT_EXCEEDED"
)

// Authorization violation codes.
const (
	CodeAuthParseError = "GRAPHQL_AUTH_PARSE_ERROR"
	CodeAuthRequired   = "GRAPHQL_AUTH_REQUIRED"
)

// SecurityViolation is returned when a request fails one of the security
// gates (size, parse, operation count, introspection, depth, complexity).
// The Message is safe to expose to clients; Details carries the numbers
// behind the verdict for client diagnostics.
type SecurityViolation struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (v *SecurityViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// AuthzViolation is returned when the authorization pre-check rejects a
// request, either because it could not determine which operation runs or
// because a private operation was requested without a principal.
type AuthzViolation struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (v *AuthzViolation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

func securityViolation(code, message string, details map[string]interface{}) *SecurityViolation {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &SecurityViolation{Code: code, Message: message, Details: details}
}

func authzViolation(code, message string, details map[string]interface{}) *AuthzViolation {
	if details == nil {
		details = map[string]interface{}{}
	}
	return &AuthzViolation{Code: code, Message: message, Details: details}
}
