package transport

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// Resolver answers a single DNS question against a chosen server.
type Resolver interface {
	Lookup(ctx context.Context, server, name string, qtype uint16) ([]string, error)
}

type dnsResolver struct {
	client *dns.Client
}

func NewDNSResolver() Resolver {
	return &dnsResolver{client: &dns.Client{Net: "udp"}}
}

func (r *dnsResolver) Lookup(ctx context.Context, server, name string, qtype uint16) ([]string, error) {
	m := question(name, qtype)
	in, _, err := r.client.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if in.Truncated {
		tcp := &dns.Client{Net: "tcp"}
		if in, _, err = tcp.ExchangeContext(ctx, m, server); err != nil {
			return nil, err
		}
	}
	return answers(in, qtype)
}

func question(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true
	return m
}

// answers renders the records matching qtype in rdata form, MX sorted by preference.
func answers(in *dns.Msg, qtype uint16) ([]string, error) {
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns: %s", dns.RcodeToString[in.Rcode])
	}
	rrs := make([]dns.RR, 0, len(in.Answer))
	for _, rr := range in.Answer {
		if rr.Header().Rrtype == qtype {
			rrs = append(rrs, rr)
		}
	}
	sort.SliceStable(rrs, func(i, j int) bool {
		a, aok := rrs[i].(*dns.MX)
		b, bok := rrs[j].(*dns.MX)
		return aok && bok && a.Preference < b.Preference
	})

	out := make([]string, 0, len(rrs))
	for _, rr := range rrs {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, strings.TrimSuffix(mx.Mx, "."))
			continue
		}
		out = append(out, strings.TrimPrefix(rr.String(), rr.Header().String()))
	}
	return out, nil
}

func recordType(spec domain.TestSpec) (uint16, error) {
	if spec.DNSQuery == "" {
		return 0, domain.Validation(domain.ErrEmptyQuery)
	}
	name := strings.ToUpper(strings.TrimSpace(spec.DNSRecord))
	if name == "" {
		return dns.TypeMX, nil
	}
	qtype, ok := dns.StringToType[name]
	if !ok {
		return 0, domain.Validation(pkgerrors.Wrapf(domain.ErrRecordType, "record %q", spec.DNSRecord))
	}
	return qtype, nil
}

// LookupDNS queries the resolver named by the target for the test's record. A failed
// lookup is not a transport error: the outcome just carries no records.
func (e *Executor) LookupDNS(ctx context.Context, spec domain.TestSpec, tgt target.Target, probeID string) (domain.TransportOutcome, error) {
	var out domain.TransportOutcome
	qtype, err := recordType(spec)
	if err != nil {
		return out, err
	}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout())
	defer cancel()

	log := e.log.With(zap.Int("test_id", spec.ID), zap.String("probe_id", probeID))
	log.Debug("dns_query", zap.String("server", tgt.Address()), zap.String("name", spec.DNSQuery), zap.String("record", dns.TypeToString[qtype]))

	start := time.Now()
	records, err := e.resolver.Lookup(ctx, tgt.Address(), spec.DNSQuery, qtype)
	elapsed := time.Since(start).Round(100 * time.Microsecond)
	out.Timing.Total, out.Timing.NameLookup, out.Timing.Connect = elapsed, elapsed, elapsed
	if err != nil {
		log.Info("dns_lookup_failed", zap.Error(err))
		return out, nil
	}

	var b strings.Builder
	for _, r := range records {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	out.Body = []byte(b.String())
	log.Debug("dns_result", zap.Strings("records", records))
	return out, nil
}
