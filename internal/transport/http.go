package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

const maxRedirects = 4

// redirects records how much of the transfer was spent following Location headers.
type redirects struct {
	count int
	last  time.Time
}

// httpClient builds a single-use client bound to the session's dialer, TLS policy
// and the test's proxy, if any.
func (e *Executor) httpClient(ctx context.Context, s *session, rd *redirects) *http.Client {
	tr := &http.Transport{
		DialContext:       s.dial.DialContext,
		TLSClientConfig:   s.tls,
		ForceAttemptHTTP2: true,
		DisableKeepAlives: true,
	}
	if proxy := e.proxyURL(ctx, s); proxy != nil {
		tr.Proxy = http.ProxyURL(proxy)
	}

	return &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return fail(CodeTooManyRedirects, "Maximum (%d) redirects followed", maxRedirects)
			}
			rd.count = len(via)
			rd.last = time.Now()
			return nil
		},
	}
}

// proxyURL resolves the test's proxy. A failed lookup is logged and the request goes direct.
func (e *Executor) proxyURL(ctx context.Context, s *session) *url.URL {
	if s.spec.ProxyServer <= 0 || (s.tgt.Category != target.CategoryWeb && s.tgt.Service != target.ServiceDoH) {
		return nil
	}
	if e.proxies == nil {
		s.log.Error("proxy_lookup_failed", zap.Int("proxy", s.spec.ProxyServer), zap.String("reason", "no proxy store"))
		return nil
	}
	p, err := e.proxies.Proxy(ctx, s.spec.ProxyServer)
	if err != nil {
		s.log.Error("proxy_lookup_failed", zap.Int("proxy", s.spec.ProxyServer), zap.Error(err))
		return nil
	}

	port := p.HTTPPort
	if s.tgt.TLS == target.TLSImplicit {
		port = p.HTTPSPort
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(p.Hostname, strconv.Itoa(port))}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	s.proxyHost = p.Hostname
	s.log.Debug("proxy_selected", zap.String("proxy", u.Redacted()))
	return u
}

func (e *Executor) fetchHTTP(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	u, err := s.tgt.URL()
	if err != nil {
		return fail(CodeURLMalformat, "URL using bad/illegal format or missing URL")
	}

	start := time.Now()
	var rd redirects
	client := e.httpClient(ctx, s, &rd)
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(CodeURLMalformat, "URL using bad/illegal format or missing URL")
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := client.Do(req)
	if rd.count > 0 {
		out.Timing.RedirectCount = rd.count
		out.Timing.Redirect = rd.last.Sub(start)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out.HTTPStatus = resp.StatusCode
	if !s.spec.RequiresAuth && resp.StatusCode >= http.StatusBadRequest {
		return fail(CodeHTTPReturnedError, "The requested URL returned error: %d", resp.StatusCode)
	}

	body, err := s.readAll(resp.Body)
	out.Body = append(responseHead(resp), body...)
	return err
}

// responseHead renders the status line and headers that precede the body, so
// search markers can match headers too.
func responseHead(resp *http.Response) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\r\n", resp.Proto, resp.Status)
	_ = resp.Header.Write(&buf)
	buf.WriteString("\r\n")
	return buf.Bytes()
}
