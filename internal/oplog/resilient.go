package oplog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// RetryPolicy bounds the retries around a single durable append.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	MaxRetries      uint64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		MaxRetries:      5,
	}
}

// ResilientStore decorates a Store with exponential backoff and a circuit
// breaker around AppendOperation, the one call on the mutation path that
// must ride out transient store trouble. Sequence races inside the store
// surface as unique-key errors and land here as ordinary retryable
// failures. Reads pass through untouched.
type ResilientStore struct {
	Store
	policy  RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

func NewResilientStore(inner Store, policy RetryPolicy) *ResilientStore {
	return &ResilientStore{
		Store:  inner,
		policy: policy,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "oplog-append",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			// The request floor sits above a single append's retry
			// attempts, so only sustained failure across appends opens
			// the circuit.
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && failureRatio >= 0.5
			},
		}),
	}
}

func (s *ResilientStore) AppendOperation(ctx context.Context, op model.Operation) (int64, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval
	b.MaxElapsedTime = s.policy.MaxElapsedTime

	var seq int64
	attempt := func() error {
		res, err := s.breaker.Execute(func() (interface{}, error) {
			return s.Store.AppendOperation(ctx, op)
		})
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return backoff.Permanent(err)
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				// An open circuit will not close within one retry
				// schedule; give up immediately.
				return backoff.Permanent(err)
			}
			return err
		}
		seq = res.(int64)
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, s.policy.MaxRetries), ctx))
	if err != nil {
		return 0, fmt.Errorf("append operation %s: %w", op.ID, err)
	}
	return seq, nil
}
