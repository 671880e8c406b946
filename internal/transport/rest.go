package transport

import (
	"context"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// RESTHandler executes a restapi test. It is supplied by the caller and must
// encode failures in the returned outcome.
type RESTHandler interface {
	Call(ctx context.Context, spec domain.TestSpec) domain.TransportOutcome
}

// RESTFunc adapts a function to RESTHandler.
type RESTFunc func(ctx context.Context, spec domain.TestSpec) domain.TransportOutcome

func (f RESTFunc) Call(ctx context.Context, spec domain.TestSpec) domain.TransportOutcome {
	return f(ctx, spec)
}

func (e *Executor) CallREST(ctx context.Context, spec domain.TestSpec, _ target.Target, _ string) (domain.TransportOutcome, error) {
	if e.rest == nil {
		return domain.TransportOutcome{}, domain.Validation(domain.ErrRESTUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()
	return e.rest.Call(ctx, spec), nil
}
