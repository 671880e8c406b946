package probe

import (
	"context"
	"time"

	"github.com/servcheck/prober/internal/domain"
)

// RetryProber repeats a probe while it fails for transport reasons. Validation,
// resource and protocol failures are returned at once.
type RetryProber struct {
	Inner    Prober
	Attempts int
	Backoff  time.Duration
}

func (r *RetryProber) Probe(ctx context.Context, spec domain.TestSpec) domain.ProbeResult {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last domain.ProbeResult
	for i := 0; i < attempts; i++ {
		last = r.Inner.Probe(ctx, spec)
		if !Retryable(last) {
			return last
		}
		if i < attempts-1 {
			select {
			case <-time.After(r.Backoff):
			case <-ctx.Done():
				return last
			}
		}
	}
	return last
}

// Retryable reports whether another attempt could change the outcome.
func Retryable(r domain.ProbeResult) bool {
	return r.Result == domain.ResultError && r.ErrorKind == domain.KindTransport
}
