package domain

import (
	"encoding/json"
	"time"
)

type Result string

const (
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

type SearchResult string

const (
	SearchNotTested SearchResult = "not tested"
	SearchOK        SearchResult = "ok"
	SearchNotOK     SearchResult = "not ok"
	SearchFailedOK  SearchResult = "failed ok"
	SearchMaintOK   SearchResult = "maint ok"
)

// Payload is raw response data. It encodes as a JSON string rather than base64.
type Payload []byte

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(p))
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = Payload(s)
	return nil
}

// TimingMetrics mirrors the transfer statistics libcurl reports.
type TimingMetrics struct {
	Total         time.Duration `json:"total_time"`
	NameLookup    time.Duration `json:"namelookup_time"`
	Connect       time.Duration `json:"connect_time"`
	Redirect      time.Duration `json:"redirect_time"`
	RedirectCount int           `json:"redirect_count"`
	SizeDownload  int64         `json:"size_download"`
	SpeedDownload float64       `json:"speed_download"` // bytes per second
}

// CertificateInfo describes one element of the peer certificate chain.
type CertificateInfo struct {
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	DNSNames     []string  `json:"dns_names,omitempty"`
	NotBefore    time.Time `json:"start_date"`
	NotAfter     time.Time `json:"expire_date"`
}

// TransportOutcome is what the network exchange produced, before classification.
// ErrorCode uses libcurl numbering; 0 means no transport-level error.
type TransportOutcome struct {
	Body         Payload           `json:"data"`
	Timing       TimingMetrics     `json:"timing"`
	HTTPStatus   int               `json:"http_code"`
	ErrorCode    int               `json:"curl_return_code"`
	ErrorText    string            `json:"transport_error,omitempty"`
	Certificates []CertificateInfo `json:"certinfo,omitempty"` // only when certificate inspection was requested
}

// ProbeResult is the classified outcome of one probe. It is never mutated after
// the probe returns it.
type ProbeResult struct {
	ProbeID      string       `json:"probe_id"`
	TestID       int          `json:"test_id"`
	Type         string       `json:"type"`
	Result       Result       `json:"result"`
	ResultSearch SearchResult `json:"result_search"`
	ErrorMessage string       `json:"error,omitempty"`
	ErrorKind    ErrorKind    `json:"error_kind,omitempty"`
	Timestamp    time.Time    `json:"time"`
	TransportOutcome
}

// CertificateExpiry reports the leaf certificate expiry when chain info was captured.
func (r ProbeResult) CertificateExpiry() (time.Time, bool) {
	if len(r.Certificates) == 0 {
		return time.Time{}, false
	}
	return r.Certificates[0].NotAfter, true
}
