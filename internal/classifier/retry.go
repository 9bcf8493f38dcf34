package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cartvision/internal/catalog"
	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/timeutil"
)

// Retrying wraps a Classifier for the non-realtime scan path. Transient
// errors and invalid output are retried with exponential backoff, and each
// retry asks for more effort. It must not be used on the live frame path.
type Retrying struct {
	Inner       Classifier
	MaxAttempts int
	BackoffBase time.Duration
	Clock       timeutil.Clock

	// OnRetry, if set, is called before each retry.
	OnRetry func(attempt int, err error)
}

// NewRetrying returns a retrying wrapper around inner.
func NewRetrying(inner Classifier, maxAttempts int, backoffBase time.Duration, clock timeutil.Clock) *Retrying {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retrying{
		Inner:       inner,
		MaxAttempts: maxAttempts,
		BackoffBase: backoffBase,
		Clock:       timeutil.OrReal(clock),
	}
}

// Classify runs up to MaxAttempts calls. The effort argument sets the
// starting rung of the escalation ladder. Exhausted transient failures are
// returned as an error wrapping ErrTransient; exhausted invalid output is
// returned as the last Invalid result.
func (r *Retrying) Classify(ctx context.Context, image []byte, products []catalog.Entry, effort Effort) (Result, error) {
	start := 0
	for i, e := range efforts {
		if e == effort {
			start = i
		}
	}

	var lastErr error
	var last Result
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			reason := lastErr
			if reason == nil {
				reason = fmt.Errorf("invalid output: %s", last.Reason)
			}
			if r.OnRetry != nil {
				r.OnRetry(attempt, reason)
			}
			delay := r.BackoffBase << (attempt - 1)
			monitoring.Debugf("classifier attempt %d failed (%v), retrying in %s", attempt, reason, delay)
			if err := r.Clock.SleepContext(ctx, delay); err != nil {
				return Result{}, err
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		rung := start + attempt
		if rung >= len(efforts) {
			rung = len(efforts) - 1
		}
		res, err := r.Inner.Classify(ctx, image, products, efforts[rung])
		switch {
		case err == nil && res.Kind != Invalid:
			return res, nil
		case err == nil:
			last, lastErr = res, nil
		case errors.Is(err, ErrTransient):
			last, lastErr = Result{}, err
		default:
			return Result{}, err
		}
	}

	if lastErr != nil {
		return Result{}, fmt.Errorf("classifier failed after %d attempts: %w", r.MaxAttempts, lastErr)
	}
	return last, nil
}
