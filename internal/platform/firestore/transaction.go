package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
	defaultTxOp       = "transaction"
)

// TxFunc runs inside a Firestore transaction. Firestore retries it on contention, so it must not
// have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single RunTransaction call.
type TxOption func(*txConfig)

type txConfig struct {
	op       string
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how many times a contended transaction runs.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxOp names the operation in wrapped errors, e.g. "sessions.merge_cookies".
func WithTxOp(op string) TxOption {
	return func(cfg *txConfig) {
		if op != "" {
			cfg.op = op
		}
	}
}

// RunTransaction executes fn inside a transaction on the shared client. Failures come back as
// *Error so callers can tell contention from unavailability.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{op: defaultTxOp, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if fn == nil {
		return WrapError(cfg.op, errors.New("firestore: transaction function is nil"))
	}

	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	// A tighter caller deadline wins.
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	err = client.RunTransaction(ctx, fn, firestore.MaxAttempts(cfg.attempts))
	return WrapError(cfg.op, err)
}
