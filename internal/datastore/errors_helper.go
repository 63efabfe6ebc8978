package datastore

import (
	"fmt"
	"strings"

	"github.com/tphakala/migration-assistant/internal/errors"
)

// dbError creates a categorized database error with context pairs
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "locked") || strings.Contains(errStr, "corrupt") || strings.Contains(errStr, "malformed") {
		builder = builder.Priority(errors.PriorityHigh)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError wraps ErrNotFound so errors.Is keeps working
func notFoundError(resource string, identifier any) error {
	return errors.New(fmt.Errorf("%s %v: %w", resource, identifier, ErrNotFound)).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("resource", resource).
		Build()
}

// stageMismatchError reports a lost compare-and-swap
func stageMismatchError(migrationID uint, expected, actual string) error {
	return errors.New(fmt.Errorf("migration %d: expected stage %s, found %s: %w", migrationID, expected, actual, ErrStageMismatch)).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("expected_stage", expected).
		Context("actual_stage", actual).
		Build()
}
