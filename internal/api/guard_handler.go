// Package api wires the query guard in front of a GraphQL endpoint as
// Fiber middleware. The guard never executes queries; on a pass it hands
// the request to the next handler with the computed metrics attached.
package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kvanta-app/gqlguard/internal/gqlguard"
	"github.com/kvanta-app/gqlguard/internal/logutil"
	"github.com/kvanta-app/gqlguard/internal/observability"
)

// MetricsLocalKey is the fiber.Locals key under which the guard stores the
// accepted request's *gqlguard.QueryMetrics for downstream handlers.
const MetricsLocalKey = "gqlguard_metrics"

// GraphQLRequest represents a GraphQL HTTP request body
type GraphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL HTTP response body
type GraphQLResponse struct {
	Data   interface{}    `json:"data,omitempty"`
	Errors []GraphQLError `json:"errors,omitempty"`
}

// GraphQLError represents a GraphQL error
type GraphQLError struct {
	Message    string                 `json:"message"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// PrincipalLookup reports whether the request carries an authenticated
// principal. It is supplied by the embedding application (for example a
// session or JWT middleware check); the guard itself never authenticates.
type PrincipalLookup func(c fiber.Ctx) bool

// GuardHandler runs the security and authorization passes over incoming
// GraphQL requests.
type GuardHandler struct {
	security  *gqlguard.SecurityPolicy
	authz     gqlguard.AuthzRules
	metrics   *observability.Metrics
	principal PrincipalLookup
}

// NewGuardHandler creates a guard handler. metrics may be nil to disable
// recording; principal may be nil, in which case every request counts as
// anonymous.
func NewGuardHandler(security *gqlguard.SecurityPolicy, authz gqlguard.AuthzRules, metrics *observability.Metrics, principal PrincipalLookup) *GuardHandler {
	return &GuardHandler{
		security:  security,
		authz:     authz,
		metrics:   metrics,
		principal: principal,
	}
}

// Middleware returns a fiber handler that analyzes the request body and
// either rejects it (400 for security violations, 401 for authorization
// violations, with the violation code in extensions.code) or stores the
// computed metrics in Locals and calls the next handler.
func (h *GuardHandler) Middleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		startTime := time.Now()
		requestID := uuid.NewString()

		var req GraphQLRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(GraphQLResponse{
				Errors: []GraphQLError{{
					Message: "Invalid JSON in request body",
				}},
			})
		}

		if req.Query == "" {
			return c.Status(fiber.StatusBadRequest).JSON(GraphQLResponse{
				Errors: []GraphQLError{{
					Message: "Query string is required",
				}},
			})
		}

		metrics, err := h.security.Analyze(req.Query, req.OperationName, req.Variables)
		if err != nil {
			return h.reject(c, requestID, req, err, time.Since(startTime))
		}

		err = gqlguard.EnforceAuthz(req.Query, req.OperationName, h.authz, func() bool {
			return h.principal != nil && h.principal(c)
		})
		if err != nil {
			return h.reject(c, requestID, req, err, time.Since(startTime))
		}

		duration := time.Since(startTime)
		h.metrics.RecordPass(metrics.Depth, metrics.Complexity, duration)
		log.Debug().
			Str("request_id", requestID).
			Str("operation", req.OperationName).
			Int("depth", metrics.Depth).
			Int("complexity", metrics.Complexity).
			Int("operation_count", metrics.OperationCount).
			Int("query_bytes", metrics.QueryBytes).
			Dur("duration", duration).
			Msg("GraphQL query accepted")

		c.Locals(MetricsLocalKey, metrics)
		return c.Next()
	}
}

// reject maps a violation to its transport response: security violations
// become 400, authorization violations 401. The violation code travels in
// extensions.code alongside the details.
func (h *GuardHandler) reject(c fiber.Ctx, requestID string, req GraphQLRequest, err error, duration time.Duration) error {
	var code, message string
	var details map[string]interface{}
	status := fiber.StatusBadRequest

	var secViolation *gqlguard.SecurityViolation
	var authzViolation *gqlguard.AuthzViolation
	switch {
	case errors.As(err, &secViolation):
		code = secViolation.Code
		message = secViolation.Message
		details = secViolation.Details
	case errors.As(err, &authzViolation):
		status = fiber.StatusUnauthorized
		code = authzViolation.Code
		message = authzViolation.Message
		details = authzViolation.Details
	default:
		code = gqlguard.CodeParseError
		message = "query analysis failed"
	}

	h.metrics.RecordRejection(code, duration)
	log.Info().
		Str("request_id", requestID).
		Str("operation", req.OperationName).
		Str("code", code).
		Str("query", logutil.SanitizeQuery(req.Query)).
		Dur("duration", duration).
		Msg("GraphQL query rejected")

	extensions := map[string]interface{}{"code": code}
	for k, v := range details {
		extensions[k] = v
	}
	return c.Status(status).JSON(GraphQLResponse{
		Errors: []GraphQLError{{
			Message:    message,
			Extensions: extensions,
		}},
	})
}

// RegisterRoutes installs the guard in front of the given GraphQL endpoint
// path. execute is the application's own handler and runs only for
// accepted requests. Fiber's Post takes the final handler first and runs
// the variadic middleware before it, so the guard goes in the middleware
// position.
func (h *GuardHandler) RegisterRoutes(app *fiber.App, path string, execute fiber.Handler) {
	app.Post(path, execute, h.Middleware())
}
