package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvanta-app/gqlguard/internal/gqlguard"
	"github.com/kvanta-app/gqlguard/internal/observability"
)

func testPolicy() *gqlguard.SecurityPolicy {
	return gqlguard.NewSecurityPolicy(gqlguard.Limits{
		MaxQueryBytes:      20000,
		MaxDepth:           8,
		MaxComplexity:      300,
		MaxOperations:      3,
		MaxListMultiplier:  50,
		AllowIntrospection: true,
	})
}

func testAuthz() gqlguard.AuthzRules {
	return gqlguard.AuthzRules{
		PublicQueries:          map[string]bool{"__typename": true},
		PublicMutations:        map[string]bool{"login": true},
		AllowUnnamedOperations: true,
	}
}

// guardedApp builds a fiber app with the guard in front of a stub executor
// that echoes the metrics the guard stored in Locals.
func guardedApp(handler *GuardHandler) *fiber.App {
	app := fiber.New()
	handler.RegisterRoutes(app, "/graphql", func(c fiber.Ctx) error {
		metrics, _ := c.Locals(MetricsLocalKey).(*gqlguard.QueryMetrics)
		return c.JSON(GraphQLResponse{Data: metrics})
	})
	return app
}

func postGraphQL(t *testing.T, app *fiber.App, body interface{}) (*http.Response, GraphQLResponse) {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(http.MethodPost, "/graphql", &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded GraphQLResponse
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return resp, decoded
}

func TestGuardHandler_Middleware(t *testing.T) {
	metrics := observability.NewMetrics()

	t.Run("accepted request reaches the executor with metrics", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, func(fiber.Ctx) bool { return true })
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, GraphQLRequest{
			Query: `{ goals(first: 5) { name progress } }`,
		})

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		require.NotNil(t, decoded.Data)
		data, err := json.Marshal(decoded.Data)
		require.NoError(t, err)

		var passed gqlguard.QueryMetrics
		require.NoError(t, json.Unmarshal(data, &passed))
		assert.Equal(t, 2, passed.Depth)
		assert.Equal(t, 11, passed.Complexity)
		assert.Equal(t, 1, passed.OperationCount)
	})

	t.Run("invalid JSON body returns 400", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, nil)
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, `{"query": `)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, decoded.Errors, 1)
		assert.Equal(t, "Invalid JSON in request body", decoded.Errors[0].Message)
	})

	t.Run("missing query returns 400", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, nil)
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, GraphQLRequest{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, decoded.Errors, 1)
		assert.Equal(t, "Query string is required", decoded.Errors[0].Message)
	})

	t.Run("security violation maps to 400 with extensions code", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, func(fiber.Ctx) bool { return true })
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, GraphQLRequest{
			Query: `{ a { b { c { d { e { f { g { h { i } } } } } } } } }`,
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, decoded.Errors, 1)
		assert.Equal(t, gqlguard.CodeDepthLimitExceeded, decoded.Errors[0].Extensions["code"])
		assert.Equal(t, float64(9), decoded.Errors[0].Extensions["depth"])
		assert.Equal(t, float64(8), decoded.Errors[0].Extensions["max_depth"])
	})

	t.Run("rejected request never reaches the executor", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, nil)
		app := fiber.New()
		executed := false
		handler.RegisterRoutes(app, "/graphql", func(c fiber.Ctx) error {
			executed = true
			return c.JSON(GraphQLResponse{})
		})

		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(GraphQLRequest{Query: `{ broken`}))
		req := httptest.NewRequest(http.MethodPost, "/graphql", &buf)
		req.Header.Set("Content-Type", "application/json")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.False(t, executed)
	})

	t.Run("authorization violation maps to 401", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, func(fiber.Ctx) bool { return false })
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, GraphQLRequest{
			Query: `mutation { deleteAccount }`,
		})

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		require.Len(t, decoded.Errors, 1)
		assert.Equal(t, gqlguard.CodeAuthRequired, decoded.Errors[0].Extensions["code"])
	})

	t.Run("principal lookup receives the request context", func(t *testing.T) {
		handler := NewGuardHandler(testPolicy(), testAuthz(), metrics, func(c fiber.Ctx) bool {
			return c.Get("Authorization") != ""
		})
		app := guardedApp(handler)

		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(GraphQLRequest{Query: `mutation { deleteAccount }`}))
		req := httptest.NewRequest(http.MethodPost, "/graphql", &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer token")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("variables flow into the multiplier resolution", func(t *testing.T) {
		policy := testPolicy()
		policy.UpdateLimits(gqlguard.Limits{
			MaxQueryBytes:      20000,
			MaxDepth:           8,
			MaxComplexity:      30,
			MaxOperations:      3,
			MaxListMultiplier:  50,
			AllowIntrospection: true,
		})
		handler := NewGuardHandler(policy, testAuthz(), metrics, func(fiber.Ctx) bool { return true })
		app := guardedApp(handler)

		resp, decoded := postGraphQL(t, app, GraphQLRequest{
			Query:     `query ($n: Int) { items(first: $n) { x y z } }`,
			Variables: map[string]interface{}{"n": 10},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Len(t, decoded.Errors, 1)
		assert.Equal(t, gqlguard.CodeComplexityLimitExceeded, decoded.Errors[0].Extensions["code"])
		assert.Equal(t, float64(31), decoded.Errors[0].Extensions["complexity"])
	})
}
