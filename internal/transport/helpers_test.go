package transport

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

type fakeCerts map[int][]byte

func (f fakeCerts) CACertificate(_ context.Context, id int) ([]byte, error) {
	b, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("ca %d: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

type fakeProxies map[int]domain.Proxy

func (f fakeProxies) Proxy(_ context.Context, id int) (domain.Proxy, error) {
	p, ok := f[id]
	if !ok {
		return domain.Proxy{}, fmt.Errorf("proxy %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func mustTarget(t *testing.T, spec domain.TestSpec) target.Target {
	t.Helper()
	tgt, err := target.Build(spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tgt
}

func hostOf(srv *httptest.Server) string {
	return srv.Listener.Addr().String()
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("want no temp files left, found %d (first %s)", len(entries), entries[0].Name())
	}
}
