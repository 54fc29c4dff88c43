// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/grundgraph/ai"
	"github.com/poiesic/grundgraph/storage"
)

// permanent reports errors that no retry can fix.
func permanent(err error) bool {
	for _, target := range []error{
		storage.ErrDimensionMismatch,
		ai.ErrDimensionMismatch,
		ai.ErrEmbeddingCount,
		context.Canceled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RetryWithBackoff runs operation up to maxAttempts times, sleeping baseDelay
// before the first retry and doubling the delay after each one. Permanent
// errors such as a dimension mismatch end the loop at once. The error of the
// last attempt is returned when all attempts fail.
func RetryWithBackoff(ctx context.Context, operation func(ctx context.Context) error, maxAttempts int, baseDelay time.Duration) error {
	if maxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}

	var err error
	for attempt, delay := 1, baseDelay; ; attempt, delay = attempt+1, delay*2 {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = operation(ctx); err == nil {
			if attempt > 1 {
				slog.Debug("batch recovered", "attempt", attempt)
			}
			return nil
		}
		if permanent(err) || attempt == maxAttempts {
			return err
		}
		slog.Debug("batch failed", "attempt", attempt, "max_attempts", maxAttempts, "err", err, "retry_in", delay)
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
