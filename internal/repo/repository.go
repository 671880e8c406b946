package repo

import (
	"context"

	"github.com/servcheck/prober/internal/domain"
)

// Ports (interfaces) for the collaborators around the probe engine.
// Lookups that miss return an error wrapping domain.ErrNotFound.
type TestStore interface {
	Test(ctx context.Context, id int) (domain.TestSpec, error)
	Tests(ctx context.Context) ([]domain.TestSpec, error)
}

type CertificateStore interface {
	CACertificate(ctx context.Context, id int) ([]byte, error)
}

type ProxyStore interface {
	Proxy(ctx context.Context, id int) (domain.Proxy, error)
}

// ResultStore keeps the most recent outcome per test.
type ResultStore interface {
	Append(ctx context.Context, r domain.ProbeResult) error
	Latest(ctx context.Context) ([]domain.ProbeResult, error)
}
