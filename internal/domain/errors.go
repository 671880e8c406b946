package domain

import "github.com/pkg/errors"

// ErrorKind tells a caller whether retrying a failed probe can help.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation" // fix the test definition first
	KindResource   ErrorKind = "resource"   // local infrastructure, retry may help
	KindTransport  ErrorKind = "transport"  // network, timeout, TLS
	KindProtocol   ErrorKind = "protocol"   // exchange completed, answer was wrong
)

var (
	ErrEmptyPath       = errors.New("Empty path")
	ErrEmptyQuery      = errors.New("Empty DNS query")
	ErrCAFile          = errors.New("Cannot create ca cert file")
	ErrCaptureFile     = errors.New("Cannot create capture file")
	ErrRecordType      = errors.New("Unsupported DNS record type")
	ErrUnsupportedType = errors.New("Unsupported test type")
	ErrRESTUnavailable = errors.New("REST API handler not configured")
	ErrNotFound        = errors.New("not found")
)

// ProbeError carries an ErrorKind alongside the failure.
type ProbeError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProbeError) Error() string { return e.Err.Error() }
func (e *ProbeError) Unwrap() error { return e.Err }

func Validation(err error) error { return &ProbeError{Kind: KindValidation, Err: err} }
func Resource(err error) error   { return &ProbeError{Kind: KindResource, Err: err} }

// KindOf extracts the ErrorKind of err. Unclassified errors count as transport.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransport
}
