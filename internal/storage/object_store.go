// Package storage provides the object stores the uploader writes into.
package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tphakala/migration-assistant/internal/errors"
	"github.com/tphakala/migration-assistant/internal/logger"
)

// File permissions and defaults shared by the stores.
const (
	PermDir  = 0o700 // rwx------ for directories
	PermFile = 0o600 // rw------- for files

	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	DefaultTimeout      = 30 * time.Second

	DefaultFTPPort = 21
	DefaultSSHPort = 22
)

// ErrDestinationUnreachable is returned when the store itself cannot be
// reached. Callers treat it as fatal for the whole batch, unlike a failure
// to write a single object.
var ErrDestinationUnreachable = errors.NewStd("object store destination unreachable")

// ObjectStore writes objects addressed by slash separated keys.
type ObjectStore interface {
	// Put stores size bytes read from r under key. size is -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	// Validate checks that the destination exists and is writable.
	Validate(ctx context.Context) error
	// Name identifies the store in logs and metrics.
	Name() string
}

// unreachable wraps cause so that errors.Is(err, ErrDestinationUnreachable) holds.
func unreachable(store string, cause error) error {
	return errors.New(errors.Join(ErrDestinationUnreachable, cause)).
		Component("storage").
		Category(errors.CategoryNetwork).
		Context("store", store).
		Build()
}

// putError reports a failure to write one object.
func putError(store, key string, cause error) error {
	return errors.New(cause).
		Component("storage").
		Category(errors.CategoryStorage).
		Context("store", store).
		Context("key", key).
		Build()
}

// transientErrorPatterns contains substrings that indicate a retriable error
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
	"SlowDown",
	"RequestTimeout",
}

// IsTransientError determines if an error is likely transient and can be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}

	errStr := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryConfig returns the retry policy used by the network stores.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultRetryBackoff,
	}
}

// WithRetry runs op until it succeeds, returns a non-transient error, or
// MaxRetries attempts have been made. The delay grows linearly.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	attempts := max(cfg.MaxRetries, 1)
	var lastErr error

	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return errors.New(err).
				Component("storage").
				Category(errors.CategoryCancellation).
				Build()
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		GetLogger().Debug("retrying storage operation",
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", attempts),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return errors.New(ctx.Err()).
				Component("storage").
				Category(errors.CategoryCancellation).
				Build()
		case <-time.After(cfg.Backoff * time.Duration(attempt+1)):
		}
	}

	return errors.New(lastErr).
		Component("storage").
		Category(errors.CategoryRetry).
		Context("attempts", attempts).
		Build()
}
