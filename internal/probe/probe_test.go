package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
	"github.com/servcheck/prober/internal/transport"
)

// recordingExecutor remembers which mode ran and returns a fixed outcome.
type recordingExecutor struct {
	calls []string
	out   domain.TransportOutcome
	err   error
	panic bool
}

func (r *recordingExecutor) record(name string) (domain.TransportOutcome, error) {
	r.calls = append(r.calls, name)
	if r.panic {
		panic("boom")
	}
	return r.out, r.err
}

func (r *recordingExecutor) Transfer(context.Context, domain.TestSpec, target.Target, string) (domain.TransportOutcome, error) {
	return r.record("transfer")
}
func (r *recordingExecutor) LookupDNS(context.Context, domain.TestSpec, target.Target, string) (domain.TransportOutcome, error) {
	return r.record("dns")
}
func (r *recordingExecutor) SubscribeMQTT(context.Context, domain.TestSpec, target.Target, string) (domain.TransportOutcome, error) {
	return r.record("mqtt")
}
func (r *recordingExecutor) CallREST(context.Context, domain.TestSpec, target.Target, string) (domain.TransportOutcome, error) {
	return r.record("rest")
}

func TestEngine_Dispatch(t *testing.T) {
	cases := map[string]string{
		"web_https":    "transfer",
		"mail_imaptls": "transfer",
		"ldap_ldaps":   "transfer",
		"ftp_ftp":      "transfer",
		"smb_smbs":     "transfer",
		"dns_doh":      "transfer",
		"dns_dns":      "dns",
		"mqtt_mqtt":    "mqtt",
		"restapi":      "rest",
	}
	for typ, want := range cases {
		x := &recordingExecutor{}
		NewEngine(x, nil).Probe(context.Background(), domain.TestSpec{Type: typ, Hostname: "h.example.com", Path: "/"})
		if len(x.calls) != 1 || x.calls[0] != want {
			t.Fatalf("%s: want %s, got %v", typ, want, x.calls)
		}
	}
}

func TestEngine_EmptyWebPathNeverTouchesNetwork(t *testing.T) {
	x := &recordingExecutor{}
	res := NewEngine(x, nil).Probe(context.Background(), domain.TestSpec{ID: 5, Type: "web_https", Hostname: "svc.example.com"})
	if res.Result != domain.ResultError || res.ErrorMessage != "Empty path" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.ErrorKind != domain.KindValidation {
		t.Fatalf("want validation kind, got %q", res.ErrorKind)
	}
	if len(x.calls) != 0 {
		t.Fatalf("no executor call expected, got %v", x.calls)
	}
	if res.ProbeID == "" || res.Timestamp.IsZero() || res.TestID != 5 {
		t.Fatalf("identity fields missing: %+v", res)
	}
}

func TestEngine_UnknownTypeIsResult(t *testing.T) {
	res := NewEngine(&recordingExecutor{}, nil).Probe(context.Background(), domain.TestSpec{Type: "gopher_gopher"})
	if res.Result != domain.ResultError || res.ErrorKind != domain.KindValidation {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngine_PanicBecomesResult(t *testing.T) {
	res := NewEngine(&recordingExecutor{panic: true}, nil).Probe(context.Background(), domain.TestSpec{Type: "dns_dns", Hostname: "x", DNSQuery: "x"})
	if res.Result != domain.ResultError || res.ProbeID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEngine_DistinctProbeIDs(t *testing.T) {
	e := NewEngine(&recordingExecutor{}, nil)
	spec := domain.TestSpec{Type: "dns_dns", Hostname: "x", DNSQuery: "x"}
	if a, b := e.Probe(context.Background(), spec), e.Probe(context.Background(), spec); a.ProbeID == b.ProbeID {
		t.Fatalf("probe ids must be unique per invocation")
	}
}

func TestEngine_WebSearchExample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("status OK"))
	}))
	defer srv.Close()

	e := NewEngine(transport.New(), nil)
	spec := domain.TestSpec{Type: "web_http", Hostname: srv.Listener.Addr().String(), Path: "/health", Search: "OK"}

	first := e.Probe(context.Background(), spec)
	if first.Result != domain.ResultOK || first.ResultSearch != domain.SearchOK {
		t.Fatalf("unexpected result %+v", first)
	}
	second := e.Probe(context.Background(), spec)
	if second.Result != first.Result || second.ResultSearch != first.ResultSearch {
		t.Fatalf("repeat probe disagrees: %+v vs %+v", first, second)
	}

	spec.Path = "/missing"
	res := e.Probe(context.Background(), spec)
	if res.Result != domain.ResultError || res.ErrorMessage != "404 - Not found" {
		t.Fatalf("want 404 error, got %+v", res)
	}
}

type mqttStub struct {
	data []byte
	n    atomic.Int32
}

func (m *mqttStub) Subscribe(ctx context.Context, _ transport.StreamRequest, onData func([]byte) bool) error {
	m.n.Add(1)
	if len(m.data) > 0 && onData(m.data) {
		return transport.ErrAborted
	}
	return context.DeadlineExceeded
}

func TestEngine_MQTTLiveness(t *testing.T) {
	tmp := t.TempDir()
	spec := domain.TestSpec{Type: "mqtt", Hostname: "broker.example.com"}

	e := NewEngine(transport.New(transport.WithSubscriber(&mqttStub{data: []byte("t 1")}), transport.WithTempDir(tmp)), nil)
	res := e.Probe(context.Background(), spec)
	if res.ErrorCode != 0 || res.Result != domain.ResultOK {
		t.Fatalf("data before the bound must succeed, got %+v", res)
	}

	e = NewEngine(transport.New(transport.WithSubscriber(&mqttStub{}), transport.WithTempDir(tmp)), nil)
	res = e.Probe(context.Background(), spec)
	if res.ErrorCode == 0 || res.Result != domain.ResultError || res.ErrorMessage != "No data returned" {
		t.Fatalf("silence must fail with no data, got %+v", res)
	}
}
