package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jackc/pgx/v5/pgconn"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseBackoff time.Duration `yaml:"base_backoff" envconfig:"BASE_BACKOFF"`
	MaxBackoff  time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF"`

	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, backoff time.Duration) `yaml:"-" ignored:"true"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

func (cfg Config) Validate() error {
	if cfg.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.BaseBackoff < 0 || cfg.MaxBackoff < cfg.BaseBackoff {
		return fmt.Errorf("retry backoff must satisfy 0 <= base (%s) <= max (%s)", cfg.BaseBackoff, cfg.MaxBackoff)
	}
	return nil
}

// Do runs fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Backoff is exponential with jitter.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == cfg.MaxAttempts {
			break
		}

		backoff := calculateBackoff(cfg.BaseBackoff, cfg.MaxBackoff, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, backoff)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if !IsRetryable(lastErr) {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Transient ClickHouse server exception codes.
var retryableClickHouseCodes = map[int32]bool{
	159: true, // TIMEOUT_EXCEEDED
	202: true, // TOO_MANY_SIMULTANEOUS_QUERIES
	209: true, // SOCKET_TIMEOUT
	210: true, // NETWORK_ERROR
	242: true, // TABLE_IS_READ_ONLY
	252: true, // TOO_MANY_PARTS
	319: true, // UNKNOWN_STATUS_OF_INSERT
}

// IsRetryable reports whether err is a transient failure of a sink write.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		return retryableClickHouseCodes[chErr.Code]
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 40001 serialization failure,
		// 53300 too many connections, 57P03 cannot connect now.
		return strings.HasPrefix(pgErr.Code, "08") || pgErr.Code == "40001" || pgErr.Code == "53300" || pgErr.Code == "57P03"
	}
	if pgconn.SafeToRetry(err) {
		return true
	}

	type hasStatusCode interface {
		HTTPStatusCode() int
	}
	var sc hasStatusCode
	if errors.As(err, &sc) {
		switch sc.HTTPStatusCode() {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection closed",
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"slow down",
		"too many requests",
	} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// calculateBackoff returns base * 2^(attempt-1), capped at max, scaled by a
// random factor in [0.5, 1.0).
func calculateBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base << uint(attempt-1)
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(backoff) * jitter)
}
