package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

const heloName = "servcheck"

// smtpSession is a minimal SMTP client: the probe only needs a liveness verb.
type smtpSession struct {
	conn       net.Conn
	text       *textproto.Conn
	transcript *bytes.Buffer
}

func newSMTPSession(conn net.Conn, transcript *bytes.Buffer) *smtpSession {
	return &smtpSession{conn: conn, text: textproto.NewConn(conn), transcript: transcript}
}

func (c *smtpSession) expect(want int) (string, error) {
	status, msg, err := c.text.ReadResponse(want)
	if status > 0 {
		fmt.Fprintf(c.transcript, "%d %s\r\n", status, msg)
	}
	return msg, err
}

func (c *smtpSession) cmd(want int, format string, args ...any) (string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.expect(want)
}

// fetchSMTP greets the server, upgrades when STARTTLS is required and issues NOOP.
// The body is the server's reply transcript.
func (e *Executor) fetchSMTP(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	conn, err := s.dialTarget(ctx)
	if err != nil {
		return err
	}
	var transcript bytes.Buffer
	c := newSMTPSession(conn, &transcript)
	defer func() {
		out.Body = append(out.Body, transcript.Bytes()...)
		c.text.Close()
	}()

	if _, err := c.expect(220); err != nil {
		return err
	}
	ext, err := c.cmd(250, "EHLO %s", heloName)
	if err != nil {
		return err
	}

	if s.tgt.TLS == target.TLSStartTLS {
		if !hasExtension(ext, "STARTTLS") {
			return fail(CodeUseSSLFailed, "STARTTLS not supported.")
		}
		if _, err := c.cmd(220, "STARTTLS"); err != nil {
			return fail(CodeUseSSLFailed, "STARTTLS denied: %v", err)
		}
		tc, err := s.upgrade(ctx, c.conn)
		if err != nil {
			return err
		}
		c = newSMTPSession(tc, &transcript)
		if _, err := c.cmd(250, "EHLO %s", heloName); err != nil {
			return err
		}
	}

	if _, err := c.cmd(250, "NOOP"); err != nil {
		return err
	}
	_, _ = c.cmd(221, "QUIT")
	return nil
}

func hasExtension(ehlo, name string) bool {
	for _, line := range strings.Split(ehlo, "\n") {
		if f := strings.Fields(line); len(f) > 0 && strings.EqualFold(f[0], name) {
			return true
		}
	}
	return false
}
