package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"

	"github.com/hirochachacha/go-smb2"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// NT status codes that have a dedicated transfer code.
const (
	statusLogonFailure       = 0xC000006D
	statusAccessDenied       = 0xC0000022
	statusObjectNameNotFound = 0xC0000034
	statusBadNetworkName     = 0xC00000CC
)

// splitDomain accepts DOMAIN\user and user@domain forms.
func splitDomain(user string) (name, dom string) {
	if d, u, ok := strings.Cut(user, `\`); ok {
		return u, d
	}
	if u, d, ok := strings.Cut(user, "@"); ok {
		return u, d
	}
	return user, ""
}

// fetchSMB authenticates with NTLM. An empty path lists the shares; otherwise the first
// path segment is the share and the rest a directory (trailing "/") or file in it.
func (e *Executor) fetchSMB(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	conn, err := s.dial.DialContext(ctx, "tcp", s.tgt.Address())
	if err != nil {
		return err
	}
	if s.tgt.TLS == target.TLSImplicit {
		tc := tls.Client(conn, s.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return err
		}
		conn = tc
	}
	defer conn.Close()

	user, dom := splitDomain(s.tgt.Username)
	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: user, Password: s.tgt.Password, Domain: dom},
	}
	sess, err := d.DialContext(ctx, conn)
	if err != nil {
		return smbError(err)
	}
	defer func() {
		if err := sess.Logoff(); err != nil {
			s.log.Debug("smb_logoff_failed", zap.Error(err))
		}
	}()

	shareName, rest, _ := strings.Cut(strings.TrimPrefix(s.tgt.Path, "/"), "/")
	if shareName == "" {
		names, err := sess.ListSharenames()
		if err != nil {
			return smbError(err)
		}
		out.Body = []byte(strings.Join(names, "\n") + "\n")
		return nil
	}

	share, err := sess.Mount(shareName)
	if err != nil {
		return smbError(err)
	}
	defer share.Umount()
	fs := share.WithContext(ctx)

	if rest == "" || strings.HasSuffix(rest, "/") {
		infos, err := fs.ReadDir(strings.TrimSuffix(rest, "/"))
		if err != nil {
			return smbError(err)
		}
		var b strings.Builder
		for _, fi := range infos {
			b.WriteString(fi.Name())
			if fi.IsDir() {
				b.WriteByte('/')
			}
			b.WriteByte('\n')
		}
		out.Body = []byte(b.String())
		return nil
	}

	f, err := fs.Open(rest)
	if err != nil {
		return smbError(err)
	}
	defer f.Close()
	out.Body, err = s.readAll(f)
	return err
}

func smbError(err error) error {
	var re *smb2.ResponseError
	if !errors.As(err, &re) {
		return err
	}
	switch re.Code {
	case statusLogonFailure:
		return fail(CodeLoginDenied, "Login denied")
	case statusAccessDenied:
		return fail(CodeRemoteAccessDenied, "Access denied to remote resource")
	case statusObjectNameNotFound, statusBadNetworkName:
		return fail(CodeRemoteFileNotFound, "Remote file not found")
	}
	return err
}
