package transport

import (
	"context"
	"net"
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"

	"github.com/servcheck/prober/internal/domain"
)

// directoryEntry is one search result served by fakeDirectory.
type directoryEntry struct {
	dn    string
	attrs [][2]string
}

type directoryLog struct {
	bindDN string
	baseDN string
}

// fakeDirectory answers simple binds and searches over a single connection.
// Binds succeed only for password.
func fakeDirectory(t *testing.T, password string, entries []directoryEntry) (addr string, seen chan directoryLog) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	seen = make(chan directoryLog, 1)
	go func() {
		var log directoryLog
		defer func() { seen <- log }()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			req, err := ber.ReadPacket(conn)
			if err != nil || len(req.Children) < 2 {
				return
			}
			id, _ := req.Children[0].Value.(int64)
			op := req.Children[1]
			switch op.Tag {
			case 0: // bind
				log.bindDN, _ = op.Children[1].Value.(string)
				code := int64(0)
				if op.Children[2].Data.String() != password {
					code = 49
				}
				_, _ = conn.Write(ldapResult(id, 1, code).Bytes())
			case 3: // search
				log.baseDN, _ = op.Children[0].Value.(string)
				for _, e := range entries {
					_, _ = conn.Write(ldapEntry(id, e).Bytes())
				}
				_, _ = conn.Write(ldapResult(id, 5, 0).Bytes())
			default: // unbind or anything else ends the session
				return
			}
		}
	}()
	return ln.Addr().String(), seen
}

func ldapEnvelope(id int64) *ber.Packet {
	p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Response")
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, id, "MessageID"))
	return p
}

func ldapResult(id int64, tag ber.Tag, code int64) *ber.Packet {
	p := ldapEnvelope(id)
	res := ber.Encode(ber.ClassApplication, ber.TypeConstructed, tag, nil, "Result")
	res.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, code, "resultCode"))
	res.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "matchedDN"))
	res.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, "", "diagnosticMessage"))
	p.AppendChild(res)
	return p
}

func ldapEntry(id int64, e directoryEntry) *ber.Packet {
	p := ldapEnvelope(id)
	entry := ber.Encode(ber.ClassApplication, ber.TypeConstructed, 4, nil, "Search Result Entry")
	entry.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, e.dn, "objectName"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	for _, a := range e.attrs {
		attr := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attribute")
		attr.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a[0], "type"))
		vals := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
		vals.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a[1], "value"))
		attr.AppendChild(vals)
		attrs.AppendChild(attr)
	}
	entry.AppendChild(attrs)
	p.AppendChild(entry)
	return p
}

func TestTransfer_LDAPBindAndSearch(t *testing.T) {
	addr, seen := fakeDirectory(t, "secret", []directoryEntry{
		{dn: "uid=jdoe,dc=example,dc=com", attrs: [][2]string{{"cn", "John Doe"}, {"mail", "jdoe@example.com"}}},
	})

	spec := domain.TestSpec{
		Type:       "ldap_ldap",
		Hostname:   addr,
		Username:   "cn=admin,dc=example,dc=com",
		Password:   "secret",
		LDAPSearch: "dc=example,dc=com?cn,mail?sub?(uid=jdoe)",
		Search:     "John Doe",
	}
	tgt := mustTarget(t, spec)
	if tgt.Path != "/dc=example,dc=com?cn,mail?sub?(uid=jdoe)" {
		t.Fatalf("unexpected ldap path %q", tgt.Path)
	}

	out, err := New().Transfer(context.Background(), spec, tgt, "l1")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.ErrorCode != CodeOK {
		t.Fatalf("want success, got %d (%s)", out.ErrorCode, out.ErrorText)
	}
	want := "DN: uid=jdoe,dc=example,dc=com\n\tcn: John Doe\n\tmail: jdoe@example.com\n\n"
	if string(out.Body) != want {
		t.Fatalf("want %q, got %q", want, out.Body)
	}

	log := <-seen
	if log.bindDN != "cn=admin,dc=example,dc=com" || log.baseDN != "dc=example,dc=com" {
		t.Fatalf("unexpected session %+v", log)
	}
}

func TestTransfer_LDAPBadCredentials(t *testing.T) {
	addr, _ := fakeDirectory(t, "secret", nil)

	spec := domain.TestSpec{Type: "ldap_ldap", Hostname: addr, Username: "cn=admin", Password: "wrong", LDAPSearch: "dc=example,dc=com"}
	out, err := New().Transfer(context.Background(), spec, mustTarget(t, spec), "l2")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.ErrorCode != CodeLoginDenied {
		t.Fatalf("want %d, got %d (%s)", CodeLoginDenied, out.ErrorCode, out.ErrorText)
	}
	if len(out.Body) != 0 {
		t.Fatalf("no entries expected, got %q", out.Body)
	}
}
