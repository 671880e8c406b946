package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// Error codes use libcurl numbering.
const (
	CodeOK                     = 0
	CodeUnsupportedProtocol    = 1
	CodeURLMalformat           = 3
	CodeCouldntResolveProxy    = 5
	CodeCouldntResolveHost     = 6
	CodeCouldntConnect         = 7
	CodeWeirdServerReply       = 8
	CodeRemoteAccessDenied     = 9
	CodeHTTPReturnedError      = 22
	CodeWriteError             = 23
	CodeOperationTimedOut      = 28
	CodeSSLConnectError        = 35
	CodeAbortedByCallback      = 42
	CodeTooManyRedirects       = 47
	CodeGotNothing             = 52
	CodeRecvError              = 56
	CodePeerFailedVerification = 60
	CodeUseSSLFailed           = 64
	CodeLoginDenied            = 67
	CodeSSLCACertBadFile       = 77
	CodeRemoteFileNotFound     = 78
)

// Failure is a transport error that already knows its code.
type Failure struct {
	Code int
	Msg  string
}

func (f *Failure) Error() string { return f.Msg }

func fail(code int, format string, args ...any) error {
	return &Failure{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// ErrAborted is returned by a Subscriber when onData asked it to stop.
var ErrAborted = errors.New("Callback aborted")

// code maps err to a numeric code and a message safe to store.
func code(ctx context.Context, err error, proxyHost string, elapsed time.Duration, received int64) (int, string) {
	c, msg := rawCode(ctx, err, proxyHost, elapsed, received)
	return c, SanitizeMessage(msg)
}

func rawCode(ctx context.Context, err error, proxyHost string, elapsed time.Duration, received int64) (int, string) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Code, f.Msg
	}
	if errors.Is(err, ErrAborted) {
		return CodeAbortedByCallback, ErrAborted.Error()
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return CodeOperationTimedOut, fmt.Sprintf("Operation timed out after %d milliseconds with %d bytes received", elapsed.Milliseconds(), received)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if proxyHost != "" && dnsErr.Name == proxyHost {
			return CodeCouldntResolveProxy, "Could not resolve proxy: " + proxyHost
		}
		return CodeCouldntResolveHost, "Could not resolve host: " + dnsErr.Name
	}

	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostnameErr      x509.HostnameError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
	)
	switch {
	case errors.As(err, &verifyErr), errors.As(err, &unknownAuthority),
		errors.As(err, &invalidCert), errors.As(err, &hostnameErr):
		return CodePeerFailedVerification, "SSL certificate problem: " + err.Error()
	case errors.As(err, &recordErr):
		return CodeSSLConnectError, "SSL connect error: " + err.Error()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CodeCouldntConnect, "Failed to connect: " + opErr.Err.Error()
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 530, 535:
			return CodeLoginDenied, "Login denied"
		case 550:
			return CodeRemoteFileNotFound, protoErr.Msg
		}
		return CodeWeirdServerReply, protoErr.Error()
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CodeGotNothing, "Empty reply from server"
	}
	if strings.Contains(err.Error(), "tls:") {
		return CodeSSLConnectError, "SSL connect error: " + err.Error()
	}
	return CodeRecvError, "Failure when receiving data from the peer: " + err.Error()
}

// SanitizeMessage strips quote characters from error text.
func SanitizeMessage(s string) string {
	return strings.NewReplacer(`"`, "", "'", "").Replace(s)
}
