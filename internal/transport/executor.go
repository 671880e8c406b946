package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/repo"
	"github.com/servcheck/prober/internal/target"
)

const (
	DefaultUserAgent    = "Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:15.0) Gecko/20100101 Firefox/15.0.1"
	DefaultMaxBodyBytes = 1 << 20
)

// Executor performs the network side of a probe. It holds configuration only
// and is safe for concurrent use.
type Executor struct {
	log        *zap.Logger
	certs      repo.CertificateStore
	proxies    repo.ProxyStore
	resolver   Resolver
	subscriber Subscriber
	rest       RESTHandler
	userAgent  string
	caBundle   string
	tmpDir     string
	maxBody    int64
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithCertificateStore(s repo.CertificateStore) Option {
	return func(e *Executor) { e.certs = s }
}

func WithProxyStore(s repo.ProxyStore) Option {
	return func(e *Executor) { e.proxies = s }
}

func WithResolver(r Resolver) Option {
	return func(e *Executor) { e.resolver = r }
}

func WithSubscriber(s Subscriber) Option {
	return func(e *Executor) { e.subscriber = s }
}

func WithRESTHandler(h RESTHandler) Option {
	return func(e *Executor) { e.rest = h }
}

func WithUserAgent(ua string) Option {
	return func(e *Executor) {
		if ua != "" {
			e.userAgent = ua
		}
	}
}

// WithCABundle sets the trust file used when a test pins no CA of its own.
func WithCABundle(path string) Option {
	return func(e *Executor) { e.caBundle = path }
}

func WithTempDir(dir string) Option {
	return func(e *Executor) { e.tmpDir = dir }
}

func WithMaxBodyBytes(n int64) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxBody = n
		}
	}
}

func New(opts ...Option) *Executor {
	e := &Executor{
		log:        zap.NewNop(),
		resolver:   NewDNSResolver(),
		subscriber: NewPahoSubscriber(),
		userAgent:  DefaultUserAgent,
		tmpDir:     os.TempDir(),
		maxBody:    DefaultMaxBodyBytes,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// session is the per-invocation state shared by the protocol fetchers.
type session struct {
	spec      domain.TestSpec
	tgt       target.Target
	tls       *tls.Config
	dial      *tracer
	log       *zap.Logger
	maxBody   int64
	userAgent string
	proxyHost string
	received  int64
}

type fetchFunc func(e *Executor, ctx context.Context, s *session, out *domain.TransportOutcome) error

var fetchers = map[target.Service]fetchFunc{
	target.ServiceHTTP:  (*Executor).fetchHTTP,
	target.ServiceHTTPS: (*Executor).fetchHTTP,
	target.ServiceSMTP:  (*Executor).fetchSMTP,
	target.ServiceSMTPS: (*Executor).fetchSMTP,
	target.ServiceIMAP:  (*Executor).fetchIMAP,
	target.ServiceIMAPS: (*Executor).fetchIMAP,
	target.ServicePOP3:  (*Executor).fetchPOP3,
	target.ServicePOP3S: (*Executor).fetchPOP3,
	target.ServiceLDAP:  (*Executor).fetchLDAP,
	target.ServiceLDAPS: (*Executor).fetchLDAP,
	target.ServiceFTP:   (*Executor).fetchFTP,
	target.ServiceFTPS:  (*Executor).fetchFTP,
	target.ServiceSMB:   (*Executor).fetchSMB,
	target.ServiceSMBS:  (*Executor).fetchSMB,
	target.ServiceDoH:   (*Executor).fetchDoH,
}

// Transfer runs the generic connection-oriented exchange for a target. Network
// failures are encoded in the outcome; the returned error is reserved for
// problems found before any I/O (validation, local resources).
func (e *Executor) Transfer(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error) {
	var out domain.TransportOutcome

	fetch, ok := fetchers[tgt.Service]
	if !ok {
		return out, domain.Validation(pkgerrors.Wrapf(domain.ErrUnsupportedType, "service %q", tgt.Service))
	}

	if tgt.Service == target.ServiceDoH {
		if _, err := recordType(spec); err != nil {
			return out, err
		}
	}

	log := e.log.With(zap.Int("test_id", spec.ID), zap.String("probe_id", probeID))
	if tgt.Service == target.ServiceHTTP && (spec.CheckCert || spec.CertExpireNotify) {
		log.Warn("checkcert_on_plain_http", zap.String("url", tgt.Redacted()))
	}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	capture := &chainCapture{}
	tlsCfg, cleanup, err := e.tlsConfig(ctx, spec, tgt, probeID, capture)
	defer func() {
		if err := cleanup(); err != nil {
			log.Warn("ca_cleanup_failed", zap.Error(err))
		}
	}()

	start := time.Now()
	s := &session{
		spec:      spec,
		tgt:       tgt,
		tls:       tlsCfg,
		dial:      newTracer(start),
		log:       log,
		maxBody:   e.maxBody,
		userAgent: e.userAgent,
	}

	if err == nil {
		err = fetch(e, ctx, s, &out)
	} else if !isFailure(err) {
		return out, err
	}

	finishTiming(&out, s.dial, time.Since(start))
	if err != nil {
		out.ErrorCode, out.ErrorText = code(ctx, err, s.proxyHost, out.Timing.Total, s.received+int64(len(out.Body)))
		log.Debug("transfer_failed", zap.Int("code", out.ErrorCode), zap.Error(err))
	}
	if spec.CertExpireNotify {
		out.Certificates = capture.info()
	}
	return out, nil
}

func isFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

func finishTiming(out *domain.TransportOutcome, dial *tracer, total time.Duration) {
	out.Timing.Total = total
	out.Timing.NameLookup, out.Timing.Connect = dial.times()
	out.Timing.SizeDownload = int64(len(out.Body))
	if secs := total.Seconds(); secs > 0 {
		out.Timing.SpeedDownload = float64(out.Timing.SizeDownload) / secs
	}
}

// dialTarget connects to the target, completing the handshake for implicit-TLS services.
func (s *session) dialTarget(ctx context.Context) (net.Conn, error) {
	conn, err := s.dial.DialContext(ctx, "tcp", s.tgt.Address())
	if err != nil {
		return nil, err
	}
	if s.tgt.TLS != target.TLSImplicit {
		return conn, nil
	}
	tc := tls.Client(conn, s.tls)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tc, nil
}

// upgrade runs the client side of STARTTLS on an established connection.
func (s *session) upgrade(ctx context.Context, conn net.Conn) (net.Conn, error) {
	tc := tls.Client(conn, s.tls)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

func (s *session) readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, s.maxBody))
}
