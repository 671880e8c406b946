package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"sync"

	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/certs"
	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// chainCapture remembers the peer chain of the last completed handshake.
type chainCapture struct {
	mu    sync.Mutex
	chain []*x509.Certificate
}

func (c *chainCapture) verify(cs tls.ConnectionState) error {
	c.mu.Lock()
	c.chain = cs.PeerCertificates
	c.mu.Unlock()
	return nil
}

func (c *chainCapture) info() []domain.CertificateInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return certs.Describe(c.chain)
}

func noCleanup() error { return nil }

// tlsConfig builds the per-probe TLS policy. When the test pins a CA, the bundle is
// materialized to a temp file that cleanup removes; cleanup is never nil.
func (e *Executor) tlsConfig(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string, capture *chainCapture) (*tls.Config, func() error, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !spec.CheckCert, //nolint:gosec // verification is opt-in per test
	}
	if tgt.Category != target.CategoryWeb && tgt.Service != target.ServiceDoH {
		// net/http sets ServerName per request.
		cfg.ServerName = tgt.Hostname()
	}
	if spec.CertExpireNotify {
		cfg.VerifyConnection = capture.verify
	}

	bundle, cleanup := e.caBundle, noCleanup
	if spec.CA > 0 {
		path, clean, err := e.materializeCA(ctx, spec.CA, probeID)
		if err != nil {
			return nil, noCleanup, err
		}
		bundle, cleanup = path, clean
	}
	if bundle == "" {
		return cfg, cleanup, nil
	}

	pool, err := certs.LoadPool(bundle)
	if err != nil {
		e.log.Warn("ca_bundle_invalid", zap.Int("test_id", spec.ID), zap.Error(err))
		return nil, cleanup, fail(CodeSSLCACertBadFile, "error setting certificate verify locations: %s", err.Error())
	}
	cfg.RootCAs = pool
	return cfg, cleanup, nil
}

func (e *Executor) materializeCA(ctx context.Context, caID int, probeID string) (string, func() error, error) {
	if e.certs == nil {
		e.log.Error("ca_store_missing", zap.Int("ca", caID))
		return "", nil, domain.Resource(domain.ErrCAFile)
	}
	pem, err := e.certs.CACertificate(ctx, caID)
	if err != nil {
		e.log.Error("ca_lookup_failed", zap.Int("ca", caID), zap.Error(err))
		return "", nil, domain.Resource(domain.ErrCAFile)
	}
	path, cleanup, err := certs.Materialize(e.tmpDir, caID, probeID, pem)
	if err != nil {
		e.log.Error("ca_materialize_failed", zap.Int("ca", caID), zap.Error(err))
		return "", nil, domain.Resource(domain.ErrCAFile)
	}
	e.log.Debug("ca_materialized", zap.Int("ca", caID), zap.String("path", path))
	return path, cleanup, nil
}
