package audit

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/de-tools/identity-atlas/pkg/models/domain"
	"github.com/rs/zerolog"
)

type RetryPolicy struct {
	// MaxRetries is the number of extra attempts after the first (default: 0)
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      0,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// RunWithRetry runs a fresh orchestrator per attempt and retries only
// transient collection failures with exponential backoff.
func RunWithRetry(
	ctx context.Context,
	newOrchestrator func() (*Orchestrator, error),
	policy RetryPolicy,
) (domain.AuditReport, error) {
	logger := zerolog.Ctx(ctx)

	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, policy.MaxRetries), ctx)

	attempt := 0
	op := func() (domain.AuditReport, error) {
		attempt++
		o, err := newOrchestrator()
		if err != nil {
			return domain.AuditReport{}, backoff.Permanent(err)
		}
		report, err := o.Run(ctx)
		if err != nil && !domain.IsRetryable(err) {
			return domain.AuditReport{}, backoff.Permanent(err)
		}
		return report, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("audit run failed, retrying")
	}

	report, err := backoff.RetryNotifyWithData(op, b, notify)
	var collErr *domain.CollectionError
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) && !errors.As(err, &collErr) {
		// The context ended while waiting for the next attempt.
		return report, domain.NewCancelledError("collector", err)
	}
	return report, err
}
