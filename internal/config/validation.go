package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/autotest/internal/discovery"
	"github.com/coral-mesh/autotest/internal/executor"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate validates Config.
func (c *Config) Validate() error {
	var errors []ValidationError

	if _, err := discovery.ParseStrategy(c.Strategy); err != nil {
		errors = append(errors, ValidationError{
			Field:   "strategy",
			Message: "strategy must be 'auto', 'dynamic' or 'sections'",
		})
	}

	if _, err := executor.ParseIsolation(c.Isolation); err != nil {
		errors = append(errors, ValidationError{
			Field:   "isolation",
			Message: "isolation must be 'process' or 'inprocess'",
		})
	}

	for i, pattern := range c.Run {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("run[%d]", i),
				Message: "run pattern cannot be empty",
			})
		}
	}

	if !validLevel(c.Log.Level) {
		errors = append(errors, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("log level must be one of %s", strings.Join(logLevels, ", ")),
		})
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}

func validLevel(level string) bool {
	for _, l := range logLevels {
		if l == level {
			return true
		}
	}
	return false
}
