package target

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/servcheck/prober/internal/domain"
)

type Category string

const (
	CategoryWeb  Category = "web"
	CategoryMail Category = "mail"
	CategoryDNS  Category = "dns"
	CategoryLDAP Category = "ldap"
	CategoryFTP  Category = "ftp"
	CategorySMB  Category = "smb"
	CategoryMQTT Category = "mqtt"
	CategoryREST Category = "restapi"
)

// Service is the base protocol name, which is also the URL scheme.
type Service string

const (
	ServiceHTTP  Service = "http"
	ServiceHTTPS Service = "https"
	ServiceSMTP  Service = "smtp"
	ServiceSMTPS Service = "smtps"
	ServiceIMAP  Service = "imap"
	ServiceIMAPS Service = "imaps"
	ServicePOP3  Service = "pop3"
	ServicePOP3S Service = "pop3s"
	ServiceDNS   Service = "dns"
	ServiceDoH   Service = "doh"
	ServiceLDAP  Service = "ldap"
	ServiceLDAPS Service = "ldaps"
	ServiceFTP   Service = "ftp"
	ServiceFTPS  Service = "ftps"
	ServiceSMB   Service = "smb"
	ServiceSMBS  Service = "smbs"
	ServiceMQTT  Service = "mqtt"
	ServiceNone  Service = "none"
)

// TLSMode distinguishes plaintext, implicit TLS and STARTTLS flavours of one protocol.
type TLSMode int

const (
	TLSNone TLSMode = iota
	TLSImplicit
	TLSStartTLS
)

type credentials int

const (
	credsNone     credentials = iota
	credsIfSet                // user:pass@ in the authority when a username is configured
	credsAlways               // user:pass@ even when empty
	credsOption               // passed beside the URI, never embedded
	credsEmbedOpt             // embedded when set and also passed beside the URI
)

// Policy is the per-type behaviour table entry.
type Policy struct {
	Category Category
	Service  Service
	TLS      TLSMode
	Port     int
	creds    credentials
	path     string // forced path; empty keeps the test's path
}

var policies = map[string]Policy{
	"web_http":     {Category: CategoryWeb, Service: ServiceHTTP, Port: 80},
	"web_https":    {Category: CategoryWeb, Service: ServiceHTTPS, TLS: TLSImplicit, Port: 443},
	"mail_smtp":    {Category: CategoryMail, Service: ServiceSMTP, Port: 25},
	"mail_smtps":   {Category: CategoryMail, Service: ServiceSMTPS, TLS: TLSImplicit, Port: 465},
	"mail_smtptls": {Category: CategoryMail, Service: ServiceSMTP, TLS: TLSStartTLS, Port: 587},
	"mail_imap":    {Category: CategoryMail, Service: ServiceIMAP, Port: 143, creds: credsIfSet, path: "/INBOX?NEW"},
	"mail_imaps":   {Category: CategoryMail, Service: ServiceIMAPS, TLS: TLSImplicit, Port: 993, creds: credsIfSet, path: "/INBOX?NEW"},
	"mail_imaptls": {Category: CategoryMail, Service: ServiceIMAP, TLS: TLSStartTLS, Port: 143, creds: credsIfSet, path: "/INBOX?NEW"},
	"mail_pop3":    {Category: CategoryMail, Service: ServicePOP3, Port: 110, creds: credsIfSet, path: "/"},
	"mail_pop3s":   {Category: CategoryMail, Service: ServicePOP3S, TLS: TLSImplicit, Port: 995, creds: credsIfSet, path: "/"},
	"mail_pop3tls": {Category: CategoryMail, Service: ServicePOP3, TLS: TLSStartTLS, Port: 110, creds: credsIfSet, path: "/"},
	"dns_dns":      {Category: CategoryDNS, Service: ServiceDNS, Port: 53},
	"dns_doh":      {Category: CategoryDNS, Service: ServiceDoH, TLS: TLSImplicit, Port: 443},
	"ldap_ldap":    {Category: CategoryLDAP, Service: ServiceLDAP, Port: 389, creds: credsOption},
	"ldap_ldaps":   {Category: CategoryLDAP, Service: ServiceLDAPS, TLS: TLSImplicit, Port: 636, creds: credsOption},
	"ldap_ldaptls": {Category: CategoryLDAP, Service: ServiceLDAP, TLS: TLSStartTLS, Port: 389, creds: credsOption},
	"ftp_ftp":      {Category: CategoryFTP, Service: ServiceFTP, Port: 21, creds: credsAlways},
	"ftp_ftps":     {Category: CategoryFTP, Service: ServiceFTPS, TLS: TLSImplicit, Port: 990, creds: credsAlways},
	"smb_smb":      {Category: CategorySMB, Service: ServiceSMB, Port: 445, creds: credsEmbedOpt},
	"smb_smbs":     {Category: CategorySMB, Service: ServiceSMBS, TLS: TLSImplicit, Port: 445, creds: credsEmbedOpt},
	"mqtt_mqtt":    {Category: CategoryMQTT, Service: ServiceMQTT, Port: 1883, creds: credsIfSet},
	"restapi":      {Category: CategoryREST, Service: ServiceNone},
}

// aliases maps shorthand types onto their canonical category_service form.
var aliases = map[string]string{
	"mqtt": "mqtt_mqtt",
}

// Decompose splits a test type into category and raw service name.
// "restapi" is the only type without an underscore.
func Decompose(typ string) (Category, string, error) {
	if typ == string(CategoryREST) {
		return CategoryREST, string(ServiceNone), nil
	}
	if canon, ok := aliases[typ]; ok {
		typ = canon
	}
	cat, svc, ok := strings.Cut(typ, "_")
	if !ok || cat == "" || svc == "" {
		return "", "", errors.Wrapf(domain.ErrUnsupportedType, "type %q", typ)
	}
	return Category(cat), svc, nil
}

// BaseService strips the "tls" flavour suffix: smtptls is smtp plus STARTTLS.
func BaseService(svc string) (Service, bool) {
	if base, ok := strings.CutSuffix(svc, "tls"); ok {
		return Service(base), true
	}
	return Service(svc), false
}

// Lookup returns the policy for a test type.
func Lookup(typ string) (Policy, error) {
	cat, svc, err := Decompose(typ)
	if err != nil {
		return Policy{}, err
	}
	if canon, ok := aliases[typ]; ok {
		typ = canon
	}
	p, ok := policies[typ]
	if !ok {
		return Policy{}, errors.Wrapf(domain.ErrUnsupportedType, "type %q", typ)
	}
	base, upgrade := BaseService(svc)
	if p.Category != cat || (cat != CategoryREST && p.Service != base) || upgrade != (p.TLS == TLSStartTLS) {
		// table and naming convention disagree; treat as unknown rather than guess
		return Policy{}, errors.Wrapf(domain.ErrUnsupportedType, "type %q", typ)
	}
	return p, nil
}

// Types lists every supported test type.
func Types() []string {
	out := make([]string, 0, len(policies))
	for k := range policies {
		out = append(out, k)
	}
	return out
}
