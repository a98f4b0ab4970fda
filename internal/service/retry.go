package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"treasure-hunt/internal/repository"
)

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 8,
		BaseBackoff: 10 * time.Millisecond,
		MaxBackoff:  250 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.5

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// retryOnConflict runs op until it returns something other than
// repository.ErrConflict or the policy is exhausted. Exhaustion is reported
// as ErrTransactionConflict.
func retryOnConflict(ctx context.Context, p RetryPolicy, name string, op func(ctx context.Context) error) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrConflict) {
			log.Debug().
				Str("op", name).
				Int("attempt", attempt).
				Msg("Write conflict, retrying")
			return err
		}
		return backoff.Permanent(err)
	}, p.backOff(ctx))

	if errors.Is(err, repository.ErrConflict) {
		log.Warn().
			Str("op", name).
			Int("attempts", attempt).
			Msg("Retries exhausted on write conflict")
		return ErrTransactionConflict
	}
	return err
}
