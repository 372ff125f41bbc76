package conn

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mailkit/imapclient/config"
	"github.com/mailkit/imapclient/errs"
	"github.com/mailkit/imapclient/internal/logger"
)

// RetryPolicy implements exponential backoff with a cap. Only
// errs.CodeTransport/errs.CodeTimeout are retried: authentication
// failures and tagged NO/BAD responses (errs.CodeInvalidArgument,
// errs.CodeAuthentication, errs.CodeProtocol) fail fast.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	ExponentialFactor float64
}

// NewRetryPolicy builds a RetryPolicy from ConnectionConfig.
func NewRetryPolicy(cfg config.ConnectionConfig) RetryPolicy {
	factor := 1.0
	if cfg.RetryExponentialBackoff {
		factor = 2.0
	}
	return RetryPolicy{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.RetryDelayInitial,
		MaxDelay:          cfg.RetryDelayMax,
		ExponentialFactor: factor,
	}
}

// Do runs fn, retrying up to MaxRetries times with backoff while
// errs.Retriable(err) holds. It gives up immediately on a
// non-retriable error or when ctx is done.
func (p RetryPolicy) Do(ctx context.Context, log logger.Logger, operation string, fn func(ctx context.Context) error) error {
	delay := p.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Timeout(err, "context done before %s", operation)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errs.Retriable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxRetries {
			break
		}
		log.Warn("retrying after transient failure",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return errs.Timeout(ctx.Err(), "context done while backing off %s", operation)
		}
		delay = nextDelay(delay, p.ExponentialFactor, p.MaxDelay)
	}
	return lastErr
}

func nextDelay(cur time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * factor)
	if factor <= 1.0 {
		next = cur
	}
	if max > 0 && next > max {
		next = max
	}
	return next
}
