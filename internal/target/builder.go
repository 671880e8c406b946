package target

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/servcheck/prober/internal/domain"
)

const mqttAnyTopic = "/%23"

// Target is the resolved connection target for one probe.
type Target struct {
	Category Category
	Service  Service
	TLS      TLSMode
	Host     string // authority without credentials, port optional
	Path     string
	Port     int    // default port of the service
	Username string // raw, not percent-encoded
	Password string

	// Embed reports whether credentials are part of the URI authority.
	Embed bool
	// CredentialOption reports whether credentials travel as a separate authenticated-request option.
	CredentialOption bool
}

// Build maps a test to its connection target. It performs no I/O.
func Build(spec domain.TestSpec) (Target, error) {
	p, err := Lookup(spec.Type)
	if err != nil {
		return Target{}, domain.Validation(err)
	}
	if p.Category == CategoryWeb && spec.Path == "" {
		return Target{}, domain.Validation(domain.ErrEmptyPath)
	}

	t := Target{
		Category: p.Category,
		Service:  p.Service,
		TLS:      p.TLS,
		Host:     withDefaultPort(strings.TrimSpace(spec.Hostname), p.Port),
		Path:     spec.Path,
		Port:     p.Port,
		Username: spec.Username,
		Password: spec.Password,
	}

	switch {
	case p.Service == ServiceLDAP || p.Service == ServiceLDAPS:
		t.Path = "/" + spec.LDAPSearch
	case p.path != "":
		t.Path = p.path
	case p.Category == CategoryMQTT && t.Path == "":
		t.Path = mqttAnyTopic
	}

	switch p.creds {
	case credsIfSet:
		t.Embed = spec.Username != ""
	case credsAlways:
		t.Embed = true
	case credsOption:
		t.CredentialOption = true
	case credsEmbedOpt:
		t.Embed = spec.Username != ""
		t.CredentialOption = true
	}
	return t, nil
}

// withDefaultPort appends the service port to a hostname carrying a bare port
// marker. A leading ":" gets ":port" appended; "host:" gets the port filled in.
func withDefaultPort(host string, port int) string {
	switch {
	case port == 0:
		return host
	case strings.HasPrefix(host, ":"):
		return host + ":" + strconv.Itoa(port)
	case strings.HasSuffix(host, ":"):
		return host + strconv.Itoa(port)
	}
	return host
}

func (t Target) credentials(password string) string {
	if !t.Embed {
		return ""
	}
	return escapeAt(t.Username) + ":" + escapeAt(password) + "@"
}

func escapeAt(s string) string {
	return strings.ReplaceAll(s, "@", "%40")
}

// String renders service://[cred@]host[path].
func (t Target) String() string {
	return string(t.Service) + "://" + t.credentials(t.Password) + t.Host + t.Path
}

// Redacted renders the target with the password masked, for logs.
func (t Target) Redacted() string {
	pw := t.Password
	if pw != "" {
		pw = "xxxxx"
	}
	return string(t.Service) + "://" + t.credentials(pw) + t.Host + t.Path
}

// Hostname returns the host without port or IPv6 brackets.
func (t Target) Hostname() string {
	if h, _, err := net.SplitHostPort(t.Host); err == nil {
		return h
	}
	return strings.TrimSuffix(strings.TrimPrefix(t.Host, "["), "]")
}

// Address returns host:port for dialing, using the service port when none is given.
func (t Target) Address() string {
	if _, _, err := net.SplitHostPort(t.Host); err == nil {
		return t.Host
	}
	return net.JoinHostPort(t.Hostname(), strconv.Itoa(t.Port))
}

// URL returns the target as a parsed URL without credentials.
func (t Target) URL() (*url.URL, error) {
	return url.Parse(string(t.Service) + "://" + t.Host + t.Path)
}
