// Package poll provides the single bounded-wait primitive used by every
// readiness condition: probe at a fixed interval until success, the
// context's deadline, or cancellation.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout marks a wait that exceeded its deadline before the success
// condition was observed.
var ErrTimeout = errors.New("timed out waiting for condition")

const defaultRetryWait = 500 * time.Millisecond

// Until invokes probe every retryWait until it reports success. The
// deadline is carried by ctx and is checked before the first probe, so an
// already-expired context fails with ErrTimeout without doing any work.
// A probe error aborts the wait immediately; a false result schedules the
// next attempt.
func Until(ctx context.Context, retryWait time.Duration, probe func(context.Context) (bool, error)) error {
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}

	for {
		if ctx.Err() != nil {
			return ErrTimeout
		}

		ok, err := probe(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(retryWait):
		}
	}
}
