package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	startupAttempts     = 3
	startupBaseWait     = time.Second
	retryJitterFraction = 0.25
)

// connErrorMarkers are substrings of driver errors that indicate the server
// was unreachable rather than that a statement failed.
var connErrorMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connect: connection",
	"dial tcp",
	"EOF",
	"connection timed out",
	"server closed the connection unexpectedly",
	"could not connect",
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range connErrorMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func anyError(error) bool { return true }

// startupBackoff is 1s, 2s, 4s... with ±25% jitter.
func startupBackoff(attempt int) time.Duration {
	attempt = max(attempt, 0)
	base := startupBaseWait << attempt
	jitter := time.Duration(float64(base) * retryJitterFraction * (2*rand.Float64() - 1)) // #nosec G404 -- jitter only
	return base + jitter
}

// retryStartup runs fn until it succeeds, fails with an error retryable
// rejects, or startupAttempts is reached.
func retryStartup(ctx context.Context, logger *slog.Logger, what string, retryable func(error) bool, fn func() error) error {
	var err error
	for attempt := 0; attempt < startupAttempts; attempt++ {
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
		if attempt == startupAttempts-1 {
			break
		}

		wait := startupBackoff(attempt)
		if logger != nil {
			logger.Warn(what+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", startupAttempts),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: context cancelled during retry: %w", what, ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", what, startupAttempts, err)
}
