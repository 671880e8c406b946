package transport

import (
	"context"
	"net/textproto"
	"strings"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

type pop3Reply struct {
	line string
}

func (r *pop3Reply) Error() string { return strings.TrimSpace(strings.TrimPrefix(r.line, "-ERR")) }

func pop3Cmd(text *textproto.Conn, format string, args ...any) (string, error) {
	if format != "" {
		if err := text.PrintfLine(format, args...); err != nil {
			return "", err
		}
	}
	line, err := text.ReadLine()
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(line, "+OK") {
		return "", &pop3Reply{line: line}
	}
	return line, nil
}

// fetchPOP3 logs in and returns the message listing, one "id size" line per message.
func (e *Executor) fetchPOP3(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	conn, err := s.dialTarget(ctx)
	if err != nil {
		return err
	}
	text := textproto.NewConn(conn)
	defer func() { text.Close() }()

	if _, err := pop3Cmd(text, ""); err != nil {
		return fail(CodeWeirdServerReply, "Got unexpected pop3-server response")
	}

	if s.tgt.TLS == target.TLSStartTLS {
		if _, err := pop3Cmd(text, "STLS"); err != nil {
			return fail(CodeUseSSLFailed, "STLS denied: %v", err)
		}
		tc, err := s.upgrade(ctx, conn)
		if err != nil {
			return err
		}
		text = textproto.NewConn(tc)
	}

	if s.tgt.Username != "" {
		if _, err := pop3Cmd(text, "USER %s", s.tgt.Username); err != nil {
			return fail(CodeLoginDenied, "Access denied: %v", err)
		}
		if _, err := pop3Cmd(text, "PASS %s", s.tgt.Password); err != nil {
			return fail(CodeLoginDenied, "Access denied: %v", err)
		}
	}

	if _, err := pop3Cmd(text, "LIST"); err != nil {
		return fail(CodeRemoteAccessDenied, "LIST refused: %v", err)
	}
	lines, err := text.ReadDotLines()
	if err != nil {
		return err
	}
	for _, l := range lines {
		out.Body = append(out.Body, l+"\r\n"...)
	}
	_, _ = pop3Cmd(text, "QUIT")
	return nil
}
