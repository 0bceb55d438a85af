// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package errclass

import (
	"context"
	"time"
)

// Retry executes op under the given policy with context-aware backoff.
//
// Description:
//
//	Runs op up to MaxAttempts times. Between attempts it sleeps the
//	policy delay (doubling per attempt under exponential backoff),
//	aborting early when the context is cancelled. The last error is
//	returned when every attempt fails.
//
// Inputs:
//
//	ctx - Cancels waiting between attempts and is passed to op.
//	policy - The retry policy. MaxAttempts < 1 runs op once.
//	op - The operation. A nil return stops retrying.
//
// Outputs:
//
//	error - Nil on success; the context error on cancellation; otherwise
//	the final attempt's error.
func Retry(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := policy.Delay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if policy.Backoff == BackoffExponential {
			delay *= 2
		}
	}
	return lastErr
}
