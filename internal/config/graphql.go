// Package config builds guard policies from the environment. Malformed or
// non-positive overrides fall back to the documented defaults instead of
// failing: a bad variable must never take the guard down with it.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/kvanta-app/gqlguard/internal/gqlguard"
)

// Environment variables consumed by the loaders.
const (
	EnvMaxQueryBytes          = "GRAPHQL_MAX_QUERY_BYTES"
	EnvMaxDepth               = "GRAPHQL_MAX_DEPTH"
	EnvMaxComplexity          = "GRAPHQL_MAX_COMPLEXITY"
	EnvMaxOperations          = "GRAPHQL_MAX_OPERATIONS"
	EnvMaxListMultiplier      = "GRAPHQL_MAX_LIST_MULTIPLIER"
	EnvAllowIntrospection     = "GRAPHQL_ALLOW_INTROSPECTION"
	EnvPublicQueries          = "GRAPHQL_PUBLIC_QUERIES"
	EnvPublicMutations        = "GRAPHQL_PUBLIC_MUTATIONS"
	EnvAllowUnnamedOperations = "GRAPHQL_ALLOW_UNNAMED_OPERATIONS"
	EnvDebug                  = "GQLGUARD_DEBUG"
)

// Default thresholds applied when the environment is silent or malformed.
const (
	DefaultMaxQueryBytes     = 20000
	DefaultMaxDepth          = 8
	DefaultMaxComplexity     = 300
	DefaultMaxOperations     = 3
	DefaultMaxListMultiplier = 50
)

// DefaultPublicQueries and DefaultPublicMutations are the root fields
// reachable without a principal when the environment does not override
// them.
var (
	DefaultPublicQueries   = []string{"__typename"}
	DefaultPublicMutations = []string{"registerUser", "login", "forgotPassword", "resetPassword"}
)

// GuardConfig contains query-guard settings for file-based configuration.
type GuardConfig struct {
	MaxQueryBytes      int  `mapstructure:"max_query_bytes"`    // Maximum request size in bytes (default: 20000)
	MaxDepth           int  `mapstructure:"max_depth"`          // Maximum query depth (default: 8)
	MaxComplexity      int  `mapstructure:"max_complexity"`     // Maximum query complexity score (default: 300)
	MaxOperations      int  `mapstructure:"max_operations"`     // Maximum operations per document (default: 3)
	MaxListMultiplier  int  `mapstructure:"max_list_multiplier"` // Cap on list-argument multipliers (default: 50)
	AllowIntrospection bool `mapstructure:"allow_introspection"` // Enable __schema/__type queries (default: debug flag)
}

// Validate validates guard configuration.
func (gc *GuardConfig) Validate() error {
	if gc.MaxQueryBytes < 1 {
		return fmt.Errorf("guard max_query_bytes must be at least 1, got: %d", gc.MaxQueryBytes)
	}
	if gc.MaxDepth < 1 {
		return fmt.Errorf("guard max_depth must be at least 1, got: %d", gc.MaxDepth)
	}
	if gc.MaxComplexity < 1 {
		return fmt.Errorf("guard max_complexity must be at least 1, got: %d", gc.MaxComplexity)
	}
	if gc.MaxOperations < 1 {
		return fmt.Errorf("guard max_operations must be at least 1, got: %d", gc.MaxOperations)
	}
	if gc.MaxListMultiplier < 1 {
		return fmt.Errorf("guard max_list_multiplier must be at least 1, got: %d", gc.MaxListMultiplier)
	}
	return nil
}

// Limits converts a validated config into an enforcement snapshot.
func (gc *GuardConfig) Limits() gqlguard.Limits {
	return gqlguard.Limits{
		MaxQueryBytes:      gc.MaxQueryBytes,
		MaxDepth:           gc.MaxDepth,
		MaxComplexity:      gc.MaxComplexity,
		MaxOperations:      gc.MaxOperations,
		MaxListMultiplier:  gc.MaxListMultiplier,
		AllowIntrospection: gc.AllowIntrospection,
	}
}

// LoadSecurityLimits reads the security thresholds from the environment.
// The introspection default tracks the debug flag, so development setups
// keep introspection while production deployments start with it off.
func LoadSecurityLimits() gqlguard.Limits {
	v := viper.New()
	v.AutomaticEnv()

	debug := envBool(v, EnvDebug, false)
	return gqlguard.Limits{
		MaxQueryBytes:      envInt(v, EnvMaxQueryBytes, DefaultMaxQueryBytes),
		MaxDepth:           envInt(v, EnvMaxDepth, DefaultMaxDepth),
		MaxComplexity:      envInt(v, EnvMaxComplexity, DefaultMaxComplexity),
		MaxOperations:      envInt(v, EnvMaxOperations, DefaultMaxOperations),
		MaxListMultiplier:  envInt(v, EnvMaxListMultiplier, DefaultMaxListMultiplier),
		AllowIntrospection: envBool(v, EnvAllowIntrospection, debug),
	}
}

// LoadAuthzRules reads the public allow-lists from the environment.
// List variables are comma-separated field names.
func LoadAuthzRules() gqlguard.AuthzRules {
	v := viper.New()
	v.AutomaticEnv()

	return gqlguard.AuthzRules{
		PublicQueries:          envSet(v, EnvPublicQueries, DefaultPublicQueries),
		PublicMutations:        envSet(v, EnvPublicMutations, DefaultPublicMutations),
		AllowUnnamedOperations: envBool(v, EnvAllowUnnamedOperations, true),
	}
}

// envInt returns the integer value of key, or def when the variable is
// unset, malformed, or non-positive.
func envInt(v *viper.Viper, key string, def int) int {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

// envBool returns the boolean value of key, or def when the variable is
// unset or not a recognizable boolean.
func envBool(v *viper.Viper, key string, def bool) bool {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(raw))
	if err != nil {
		return def
	}
	return b
}

// envSet parses a comma-separated list into a membership set, falling back
// to def when the variable is unset or contains no usable entries.
func envSet(v *viper.Viper, key string, def []string) map[string]bool {
	raw := strings.TrimSpace(v.GetString(key))
	entries := def
	if raw != "" {
		var parsed []string
		for _, entry := range strings.Split(raw, ",") {
			if entry = strings.TrimSpace(entry); entry != "" {
				parsed = append(parsed, entry)
			}
		}
		if len(parsed) > 0 {
			entries = parsed
		}
	}

	set := make(map[string]bool, len(entries))
	for _, entry := range entries {
		set[entry] = true
	}
	return set
}
