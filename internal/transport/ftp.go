package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

const anonymousUser = "anonymous"

// fetchFTP logs in, then lists a directory (path empty or ending in "/") or retrieves a file.
func (e *Executor) fetchFTP(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	dial := func(network, address string) (net.Conn, error) {
		conn, err := s.dial.DialContext(ctx, network, address)
		if err != nil || s.tgt.TLS != target.TLSImplicit {
			return conn, err
		}
		tc := tls.Client(conn, s.tls)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return tc, nil
	}

	opts := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithDialFunc(dial)}
	if s.tgt.TLS == target.TLSImplicit {
		// protects the data channel (PBSZ/PROT) after login
		opts = append(opts, ftp.DialWithTLS(s.tls))
	}

	c, err := ftp.Dial(s.tgt.Address(), opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Quit(); err != nil {
			s.log.Debug("ftp_quit_failed", zap.Error(err))
		}
	}()

	user := s.tgt.Username
	if user == "" {
		user = anonymousUser
	}
	if err := c.Login(user, s.tgt.Password); err != nil {
		return err
	}

	path := s.tgt.Path
	if path == "" || strings.HasSuffix(path, "/") {
		entries, err := c.List(path)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, entry := range entries {
			b.WriteString(entry.Name)
			if entry.Type == ftp.EntryTypeFolder {
				b.WriteByte('/')
			}
			b.WriteString("\r\n")
		}
		out.Body = []byte(b.String())
		return nil
	}

	r, err := c.Retr(path)
	if err != nil {
		return err
	}
	defer r.Close()
	out.Body, err = s.readAll(r)
	return err
}
