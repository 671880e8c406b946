package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// tracer dials TCP and records when name resolution and the first connect finished,
// relative to the start of the transfer.
type tracer struct {
	start    time.Time
	dialer   net.Dialer
	resolver *net.Resolver

	mu      sync.Mutex
	lookup  time.Duration
	connect time.Duration
}

func newTracer(start time.Time) *tracer {
	return &tracer{start: start, resolver: net.DefaultResolver}
}

func (t *tracer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips := []string{host}
	if net.ParseIP(host) == nil {
		ips, err = t.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
	}
	t.mark(&t.lookup)

	var last error
	for _, ip := range ips {
		conn, err := t.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err != nil {
			last = err
			continue
		}
		t.mark(&t.connect)
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetDeadline(dl)
		}
		return conn, nil
	}
	return nil, last
}

// mark keeps the first observation only; later dials (redirects, data channels) do not move it.
func (t *tracer) mark(d *time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if *d == 0 {
		*d = time.Since(t.start)
	}
}

func (t *tracer) times() (lookup, connect time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookup, t.connect
}
