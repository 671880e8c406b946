package transport

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
)

const (
	dohPath        = "/dns-query"
	dohContentType = "application/dns-message"
)

// fetchDoH sends the test's question as an RFC 8484 POST and renders the answers
// like a plain DNS lookup.
func (e *Executor) fetchDoH(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	qtype, err := recordType(s.spec)
	if err != nil {
		return err
	}
	m := question(s.spec.DNSQuery, qtype)
	m.Id = 0
	packed, err := m.Pack()
	if err != nil {
		return fail(CodeURLMalformat, "Cannot encode DNS query: %v", err)
	}

	path := s.tgt.Path
	if path == "" {
		path = dohPath
	}
	endpoint := "https://" + s.tgt.Host + path

	start := time.Now()
	var rd redirects
	client := e.httpClient(ctx, s, &rd)
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(packed))
	if err != nil {
		return fail(CodeURLMalformat, "URL using bad/illegal format or missing URL")
	}
	req.Header.Set("Content-Type", dohContentType)
	req.Header.Set("Accept", dohContentType)
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
	if resp.StatusCode != http.StatusOK {
		return fail(CodeHTTPReturnedError, "The requested URL returned error: %d", resp.StatusCode)
	}
	raw, err := s.readAll(resp.Body)
	if err != nil {
		return err
	}

	in := new(dns.Msg)
	if err := in.Unpack(raw); err != nil {
		return fail(CodeWeirdServerReply, "Invalid DNS message: %v", err)
	}
	records, err := answers(in, qtype)
	if err != nil {
		s.log.Info("dns_lookup_failed", zap.Error(err))
		return nil
	}
	if len(records) > 0 {
		out.Body = []byte(strings.Join(records, "\n") + "\n")
	}
	return nil
}
