package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kingrea/lattice-waves/internal/workflow"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return "config: " + e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "config: %d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the accepted log.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidPlanFormats returns the accepted plan.format values.
func ValidPlanFormats() []string {
	return []string{"json", "yaml"}
}

// Validate checks every section and returns all problems found.
func (s Settings) Validate() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), s.Log.Level) {
		errs = append(errs, ValidationError{Field: "log.level", Value: s.Log.Level,
			Message: "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if s.Execution.HaltThreshold <= 0 || s.Execution.HaltThreshold > 1 {
		errs = append(errs, ValidationError{Field: "execution.halt_threshold", Value: s.Execution.HaltThreshold,
			Message: "must be greater than 0 and at most 1"})
	}
	if s.Plan.Path == "" {
		errs = append(errs, ValidationError{Field: "plan.path", Value: s.Plan.Path, Message: "is required"})
	}
	if !slices.Contains(ValidPlanFormats(), s.Plan.Format) {
		errs = append(errs, ValidationError{Field: "plan.format", Value: s.Plan.Format,
			Message: "must be one of " + strings.Join(ValidPlanFormats(), ", ")})
	}
	if s.Bridge.Enabled {
		if s.Bridge.Host == "" {
			errs = append(errs, ValidationError{Field: "bridge.host", Value: s.Bridge.Host, Message: "is required when the bridge is enabled"})
		}
		if s.Bridge.Port < 0 || s.Bridge.Port > 65535 {
			errs = append(errs, ValidationError{Field: "bridge.port", Value: s.Bridge.Port, Message: "must be between 0 and 65535"})
		}
		if s.Bridge.MaxBodyBytes <= 0 {
			errs = append(errs, ValidationError{Field: "bridge.max_body_bytes", Value: s.Bridge.MaxBodyBytes, Message: "must be positive"})
		}
	}
	names := make([]string, 0, len(s.Delegation.Categories))
	for name := range s.Delegation.Categories {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if !workflow.Category(name).Valid() {
			errs = append(errs, ValidationError{Field: "delegation.categories." + name, Value: name, Message: "unknown category"})
		}
	}
	return errs
}
