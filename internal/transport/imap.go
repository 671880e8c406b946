package transport

import (
	"context"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// fetchIMAP selects INBOX read-only and searches for new (recent, unseen) messages.
// The body mirrors the server's untagged SEARCH reply.
func (e *Executor) fetchIMAP(ctx context.Context, s *session, out *domain.TransportOutcome) error {
	conn, err := s.dialTarget(ctx)
	if err != nil {
		return err
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		if err := c.Logout(); err != nil {
			s.log.Debug("imap_logout_failed", zap.Error(err))
		}
	}()
	if dl, ok := ctx.Deadline(); ok {
		c.Timeout = timeUntil(dl)
	}

	if s.tgt.TLS == target.TLSStartTLS {
		ok, err := c.SupportStartTLS()
		if err != nil {
			return err
		}
		if !ok {
			return fail(CodeUseSSLFailed, "STARTTLS not supported.")
		}
		if err := c.StartTLS(s.tls); err != nil {
			return err
		}
	}

	if s.tgt.Username != "" {
		if err := c.Login(s.tgt.Username, s.tgt.Password); err != nil {
			return fail(CodeLoginDenied, "Login denied: %v", err)
		}
	}

	if _, err := c.Select("INBOX", true); err != nil {
		return fail(CodeRemoteFileNotFound, "SELECT failed: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.RecentFlag}
	criteria.WithoutFlags = []string{imap.SeenFlag}
	ids, err := c.Search(criteria)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("* SEARCH")
	for _, id := range ids {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	b.WriteString("\r\n")
	out.Body = []byte(b.String())
	return nil
}
