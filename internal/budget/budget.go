// Package budget accounts the cost of a research session and decides when the
// loop has to stop exploring and commit to an answer.
package budget

import "fmt"

// DefaultMaxSteps bounds a session when no step ceiling is configured.
const DefaultMaxSteps = 30

// Config defines the guardrails for one session.
type Config struct {
	TokenLimit     int64
	ReserveTokens  int64
	MaxSteps       int
	MaxBadAttempts int
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	if c.TokenLimit <= 0 {
		return fmt.Errorf("token_limit must be positive")
	}
	if c.ReserveTokens < 0 {
		return fmt.Errorf("reserve_tokens cannot be negative")
	}
	if c.ReserveTokens > c.TokenLimit {
		return fmt.Errorf("reserve_tokens cannot exceed token_limit")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps cannot be negative")
	}
	if c.MaxBadAttempts < 0 {
		return fmt.Errorf("max_bad_attempts cannot be negative")
	}
	return nil
}

// Override carries optional per-request adjustments.
type Override struct {
	TokenLimit     *int64
	MaxBadAttempts *int
}

// IsZero reports whether the override changes nothing.
func (o Override) IsZero() bool {
	return o.TokenLimit == nil && o.MaxBadAttempts == nil
}

// Merge overlays non-nil values from override onto base. When the token
// limit changes, the reserve keeps its proportion of the limit.
func Merge(base Config, override Override) Config {
	result := base
	if override.TokenLimit != nil && *override.TokenLimit > 0 {
		limit := *override.TokenLimit
		if base.TokenLimit > 0 {
			result.ReserveTokens = base.ReserveTokens * limit / base.TokenLimit
		}
		result.TokenLimit = limit
	}
	if override.MaxBadAttempts != nil && *override.MaxBadAttempts >= 0 {
		result.MaxBadAttempts = *override.MaxBadAttempts
	}
	return result
}
