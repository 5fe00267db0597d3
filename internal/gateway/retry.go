package gateway

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradescout/optionrun/internal/domain"
)

// httpStatusError lets backends surface an HTTP status for retry
// classification without coupling the gateway to a wire format.
type httpStatusError struct {
	status int
	msg    string
}

func (e *httpStatusError) Error() string { return e.msg }

// StatusError wraps an HTTP failure so the retry policy can classify it.
func StatusError(status int, msg string) error {
	return &httpStatusError{status: status, msg: msg}
}

// retryable reports whether the error is transient: network failures, 5xx,
// and throttling (429). Other 4xx are terminal.
func retryable(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == 429
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, domain.ErrProviderUnavailable)
}

// withRetry runs fn up to attempts times with exponential backoff and jitter.
// Terminal errors and ctx expiry return immediately. The final transient
// failure is normalized to ProviderUnavailable.
func withRetry(ctx context.Context, attempts int, base time.Duration, tool string, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := base << (attempt - 1)
			delay += time.Duration(rand.Int63n(int64(delay) / 2))
			log.Debug().Str("tool", tool).Int("attempt", attempt+1).
				Dur("backoff", delay).Msg("Retrying provider call")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
	}
	return domain.Providerf("%s failed after %d attempts: %v", tool, attempts, err)
}
