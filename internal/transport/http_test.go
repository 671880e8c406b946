package transport

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
)

func TestTransfer_HTTPBodyIncludesHeaders(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Header().Set("X-Status", "healthy")
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	spec := domain.TestSpec{ID: 1, Type: "web_http", Hostname: hostOf(srv), Path: "/health"}
	out, err := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.ErrorCode != CodeOK || out.HTTPStatus != http.StatusOK {
		t.Fatalf("want code 0 / 200, got %d / %d (%s)", out.ErrorCode, out.HTTPStatus, out.ErrorText)
	}
	body := string(out.Body)
	if !strings.HasPrefix(body, "HTTP/1.1 200 OK\r\n") || !strings.Contains(body, "X-Status: healthy") || !strings.HasSuffix(body, "\r\n\r\nOK") {
		t.Fatalf("unexpected body %q", body)
	}
	if ua != DefaultUserAgent {
		t.Fatalf("want default user agent, got %q", ua)
	}
	if out.Timing.Total <= 0 || out.Timing.SizeDownload != int64(len(out.Body)) {
		t.Fatalf("timing not filled: %+v", out.Timing)
	}
}

func TestTransfer_HTTPFailOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	spec := domain.TestSpec{Type: "web_http", Hostname: hostOf(srv), Path: "/"}
	out, _ := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeHTTPReturnedError {
		t.Fatalf("want code %d, got %d", CodeHTTPReturnedError, out.ErrorCode)
	}
	if out.ErrorText != "The requested URL returned error: 503" {
		t.Fatalf("unexpected message %q", out.ErrorText)
	}
	if len(out.Body) != 0 || out.HTTPStatus != 503 {
		t.Fatalf("want empty body and status 503, got %q / %d", out.Body, out.HTTPStatus)
	}
}

func TestTransfer_HTTPRequiresAuthKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="x"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	spec := domain.TestSpec{Type: "web_http", Hostname: hostOf(srv), Path: "/", RequiresAuth: true}
	out, _ := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOK || out.HTTPStatus != http.StatusUnauthorized {
		t.Fatalf("want code 0 / 401, got %d / %d", out.ErrorCode, out.HTTPStatus)
	}
	if !strings.Contains(string(out.Body), "Www-Authenticate") {
		t.Fatalf("want headers in body, got %q", out.Body)
	}
}

func TestTransfer_HTTPRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/hop/", func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if n == 0 {
			_, _ = w.Write([]byte("landed"))
			return
		}
		http.Redirect(w, r, fmt.Sprintf("/hop/%d", n-1), http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	spec := domain.TestSpec{Type: "web_http", Hostname: hostOf(srv), Path: "/hop/4"}
	out, _ := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOK || out.Timing.RedirectCount != 4 {
		t.Fatalf("four hops must be followed: code %d count %d", out.ErrorCode, out.Timing.RedirectCount)
	}
	if !strings.HasSuffix(string(out.Body), "landed") {
		t.Fatalf("unexpected body %q", out.Body)
	}

	spec.Path = "/hop/5"
	out, _ = New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeTooManyRedirects {
		t.Fatalf("want code %d, got %d (%s)", CodeTooManyRedirects, out.ErrorCode, out.ErrorText)
	}
	if out.ErrorText != "Maximum (4) redirects followed" {
		t.Fatalf("unexpected message %q", out.ErrorText)
	}
}

func TestTransfer_HTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	spec := domain.TestSpec{Type: "web_http", Hostname: hostOf(srv), Path: "/", TimeoutTrigger: 1}
	start := time.Now()
	out, _ := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOperationTimedOut {
		t.Fatalf("want code %d, got %d (%s)", CodeOperationTimedOut, out.ErrorCode, out.ErrorText)
	}
	if !strings.HasPrefix(out.ErrorText, "Operation timed out after ") {
		t.Fatalf("unexpected message %q", out.ErrorText)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("transfer outlived its budget: %v", time.Since(start))
	}
}

func TestTransfer_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := hostOf(srv)
	srv.Close()

	spec := domain.TestSpec{Type: "web_http", Hostname: addr, Path: "/"}
	out, err := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if err != nil {
		t.Fatalf("transport failures must not surface as errors: %v", err)
	}
	if out.ErrorCode != CodeCouldntConnect {
		t.Fatalf("want code %d, got %d (%s)", CodeCouldntConnect, out.ErrorCode, out.ErrorText)
	}
}

func tlsServerPEM(srv *httptest.Server) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
}

func TestTransfer_PinnedCAIsRemoved(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	tmp := t.TempDir()
	exec := New(WithTempDir(tmp), WithCertificateStore(fakeCerts{9: tlsServerPEM(srv)}))
	spec := domain.TestSpec{Type: "web_https", Hostname: hostOf(srv), Path: "/", CA: 9, CheckCert: true, CertExpireNotify: true}

	out, err := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.ErrorCode != CodeOK {
		t.Fatalf("pinned CA must verify, got %d (%s)", out.ErrorCode, out.ErrorText)
	}
	if len(out.Certificates) == 0 || out.Certificates[0].NotAfter.IsZero() {
		t.Fatalf("want certificate chain, got %+v", out.Certificates)
	}
	assertEmptyDir(t, tmp)
}

func TestTransfer_PinnedCARemovedOnFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := hostOf(srv)
	pemBytes := tlsServerPEM(srv)
	srv.Close()

	tmp := t.TempDir()
	exec := New(WithTempDir(tmp), WithCertificateStore(fakeCerts{9: pemBytes}))
	spec := domain.TestSpec{Type: "web_https", Hostname: addr, Path: "/", CA: 9, CheckCert: true}
	out, _ := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode == CodeOK {
		t.Fatalf("want a transport failure against a closed server")
	}
	assertEmptyDir(t, tmp)
}

func TestTransfer_MissingCAIsResourceError(t *testing.T) {
	tmp := t.TempDir()
	exec := New(WithTempDir(tmp), WithCertificateStore(fakeCerts{}))
	spec := domain.TestSpec{Type: "web_https", Hostname: "127.0.0.1:1", Path: "/", CA: 4}
	_, err := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if !errors.Is(err, domain.ErrCAFile) || domain.KindOf(err) != domain.KindResource {
		t.Fatalf("want resource ErrCAFile, got %v", err)
	}
	assertEmptyDir(t, tmp)
}

func TestTransfer_CheckCertRejectsUnknownAuthority(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	spec := domain.TestSpec{Type: "web_https", Hostname: hostOf(srv), Path: "/", CheckCert: true}
	out, _ := New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodePeerFailedVerification {
		t.Fatalf("want code %d, got %d (%s)", CodePeerFailedVerification, out.ErrorCode, out.ErrorText)
	}

	spec.CheckCert = false
	out, _ = New().Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOK {
		t.Fatalf("unchecked certificates must pass, got %d (%s)", out.ErrorCode, out.ErrorText)
	}
	if out.Certificates != nil {
		t.Fatalf("chain must only be reported when requested")
	}
}

func TestTransfer_HTTPThroughProxy(t *testing.T) {
	var proxyAuth, requested string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyAuth = r.Header.Get("Proxy-Authorization")
		requested = r.URL.String()
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()
	port := proxy.Listener.Addr().(*net.TCPAddr).Port

	exec := New(WithProxyStore(fakeProxies{2: {ID: 2, Hostname: "127.0.0.1", HTTPPort: port, HTTPSPort: 1, Username: "pu", Password: "pp"}}))
	spec := domain.TestSpec{Type: "web_http", Hostname: "origin.invalid", Path: "/x", ProxyServer: 2}
	out, _ := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOK || !strings.HasSuffix(string(out.Body), "via proxy") {
		t.Fatalf("want proxied response, got %d %q (%s)", out.ErrorCode, out.Body, out.ErrorText)
	}
	if requested != "http://origin.invalid/x" {
		t.Fatalf("proxy saw %q", requested)
	}
	if !strings.HasPrefix(proxyAuth, "Basic ") {
		t.Fatalf("want proxy credentials, got %q", proxyAuth)
	}
}

func TestTransfer_UnknownProxyGoesDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("direct"))
	}))
	defer srv.Close()

	exec := New(WithProxyStore(fakeProxies{}))
	spec := domain.TestSpec{Type: "web_http", Hostname: hostOf(srv), Path: "/", ProxyServer: 7}
	out, _ := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if out.ErrorCode != CodeOK || !strings.HasSuffix(string(out.Body), "direct") {
		t.Fatalf("want direct response, got %d %q", out.ErrorCode, out.Body)
	}
}

func TestTransfer_DoHThroughProxyUsesHTTPSPort(t *testing.T) {
	tunnels := make(chan string, 1)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodConnect {
			tunnels <- r.Host
		}
		http.Error(w, "no tunnels", http.StatusForbidden)
	}))
	defer proxy.Close()
	port := proxy.Listener.Addr().(*net.TCPAddr).Port

	exec := New(WithProxyStore(fakeProxies{3: {ID: 3, Hostname: "127.0.0.1", HTTPPort: 1, HTTPSPort: port}}))
	spec := domain.TestSpec{Type: "dns_doh", Hostname: "doh.invalid", DNSQuery: "example.com", ProxyServer: 3}
	out, err := exec.Transfer(context.Background(), spec, mustTarget(t, spec), "p")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.ErrorCode == CodeOK {
		t.Fatalf("want failure from refused tunnel")
	}
	select {
	case host := <-tunnels:
		if host != "doh.invalid:443" {
			t.Fatalf("want tunnel to doh.invalid:443, got %q", host)
		}
	default:
		t.Fatalf("proxy on https port never saw CONNECT")
	}
}

func TestProxyURL_PortFollowsScheme(t *testing.T) {
	exec := New(WithProxyStore(fakeProxies{4: {ID: 4, Hostname: "proxy.local", HTTPPort: 3128, HTTPSPort: 3129}}))
	cases := []struct {
		spec domain.TestSpec
		want string
	}{
		{domain.TestSpec{Type: "web_http", Hostname: "a", Path: "/", ProxyServer: 4}, "proxy.local:3128"},
		{domain.TestSpec{Type: "web_https", Hostname: "a", Path: "/", ProxyServer: 4}, "proxy.local:3129"},
		{domain.TestSpec{Type: "dns_doh", Hostname: "a", DNSQuery: "q", ProxyServer: 4}, "proxy.local:3129"},
	}
	for _, c := range cases {
		s := &session{spec: c.spec, tgt: mustTarget(t, c.spec), log: zap.NewNop()}
		u := exec.proxyURL(context.Background(), s)
		if u == nil || u.Host != c.want {
			t.Fatalf("%s: want proxy %s, got %v", c.spec.Type, c.want, u)
		}
	}
}
