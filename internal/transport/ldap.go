package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// ldapQuery is the dn?attributes?scope?filter part of an LDAP URL.
type ldapQuery struct {
	baseDN     string
	attributes []string
	scope      int
	filter     string
}

func parseLDAPQuery(path string) (ldapQuery, error) {
	q := ldapQuery{scope: ldap.ScopeBaseObject, filter: "(objectClass=*)"}
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "?", 5)

	dn, err := url.PathUnescape(parts[0])
	if err != nil {
		return q, err
	}
	q.baseDN = dn
	if len(parts) > 1 && parts[1] != "" {
		q.attributes = strings.Split(parts[1], ",")
	}
	if len(parts) > 2 && parts[2] != "" {
		switch strings.ToLower(parts[2]) {
		case "base":
			q.scope = ldap.ScopeBaseObject
		case "one":
			q.scope = ldap.ScopeSingleLevel
		case "sub":
			q.scope = ldap.ScopeWholeSubtree
		default:
			return q, fmt.Errorf("unknown scope %q", parts[2])
		}
	}
	if len(parts) > 3 && parts[3] != "" {
		f, err := url.PathUnescape(parts[3])
		if err != nil {
			return q, err
		}
		q.filter = f
	}
	return q, nil
}

// fetchLDAP binds with the test's credentials and runs the configured search.
// Entries are rendered one DN per block with tab-indented attributes.
func (e *Executor) fetchLDAP(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	q, err := parseLDAPQuery(s.tgt.Path)
	if err != nil {
		return fail(CodeURLMalformat, "Bad LDAP URL: %v", err)
	}

	conn, err := s.dialTarget(ctx)
	if err != nil {
		return err
	}
	l := ldap.NewConn(conn, s.tgt.TLS == target.TLSImplicit)
	l.Start()
	defer l.Close()

	var timeLimit int
	if dl, ok := ctx.Deadline(); ok {
		l.SetTimeout(timeUntil(dl))
		timeLimit = int(timeUntil(dl) / time.Second)
	}

	if s.tgt.TLS == target.TLSStartTLS {
		if err := l.StartTLS(s.tls); err != nil {
			return fail(CodeUseSSLFailed, "StartTLS failed: %v", err)
		}
	}

	if s.tgt.CredentialOption && s.tgt.Username != "" {
		if err := l.Bind(s.tgt.Username, s.tgt.Password); err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
				return fail(CodeLoginDenied, "LDAP local: bind failed")
			}
			return err
		}
	}

	req := ldap.NewSearchRequest(q.baseDN, q.scope, ldap.NeverDerefAliases, 0, timeLimit, false, q.filter, q.attributes, nil)
	res, err := l.Search(req)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return fail(CodeRemoteFileNotFound, "LDAP remote: %v", err)
		}
		return err
	}

	var b strings.Builder
	for _, entry := range res.Entries {
		fmt.Fprintf(&b, "DN: %s\n", entry.DN)
		for _, attr := range entry.Attributes {
			for _, v := range attr.Values {
				fmt.Fprintf(&b, "\t%s: %s\n", attr.Name, v)
			}
		}
		b.WriteString("\n")
	}
	out.Body = []byte(b.String())
	return nil
}

func timeUntil(t time.Time) time.Duration {
	if d := time.Until(t); d > 0 {
		return d
	}
	return time.Millisecond
}
