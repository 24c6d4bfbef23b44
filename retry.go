package main

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds the connection retry loop. It is a pure value; the
// delay before retrying after attempt n (0-based) is
// min(InitialDelay * Multiplier^n, MaxDelay).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy yields delays of 1,2,4,8,16s (capped at 30s) between
// the five attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// Delay returns the backoff slept after failed attempt n before attempt
// n+1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type dialFunc func(ctx context.Context, desc ConnectionDescriptor) (Conn, error)

// Connector establishes connections with bounded exponential backoff.
// Only failures classified as transient are retried; anything else, and the
// final attempt's failure, propagate immediately. The connector holds no
// other state and does no work beyond connection establishment.
type Connector struct {
	policy RetryPolicy
	dial   dialFunc
	log    *logrus.Logger
}

// NewConnector returns a connector using the real database dialer.
func NewConnector(policy RetryPolicy, log *logrus.Logger) *Connector {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Connector{policy: policy, dial: openConnection, log: log}
}

// Connect attempts connection establishment up to the policy's attempt
// budget.
func (c *Connector) Connect(ctx context.Context, desc ConnectionDescriptor) (Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.policy.InitialDelay
	bo.MaxInterval = c.policy.MaxDelay
	bo.Multiplier = c.policy.Multiplier
	// The delay sequence is deterministic by contract.
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var conn Conn
	attempt := 0
	op := func() error {
		attempt++
		var err error
		conn, err = c.dial(ctx, desc)
		if err == nil {
			return nil
		}
		if classifyError(err) != ErrTransient {
			return backoff.Permanent(err)
		}
		c.log.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.policy.MaxAttempts,
			"server":       desc.Host,
		}).Warnf("Transient connection failure: %v", err)
		return err
	}

	retries := uint64(c.policy.MaxAttempts - 1)
	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), retries))
	if err != nil {
		return nil, err
	}
	return conn, nil
}
