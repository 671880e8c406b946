package domain

import "time"

// DefaultTimeout bounds a probe whose test carries no timeout_trigger.
const DefaultTimeout = 10 * time.Second

// TestSpec describes one service check. Secrets arrive already resolved.
type TestSpec struct {
	ID               int    `json:"id" yaml:"id"`
	Name             string `json:"name,omitempty" yaml:"name"`
	Type             string `json:"type" yaml:"type"` // category_service, or "restapi"
	Hostname         string `json:"hostname" yaml:"hostname"`
	Path             string `json:"path,omitempty" yaml:"path"`
	Username         string `json:"username,omitempty" yaml:"username"`
	Password         string `json:"password,omitempty" yaml:"password"`
	TimeoutTrigger   int    `json:"timeout_trigger,omitempty" yaml:"timeout_trigger"` // seconds
	CA               int    `json:"ca,omitempty" yaml:"ca"`
	CheckCert        bool   `json:"checkcert,omitempty" yaml:"checkcert"`
	CertExpireNotify bool   `json:"certexpirenotify,omitempty" yaml:"certexpirenotify"`
	Search           string `json:"search,omitempty" yaml:"search"`
	SearchFailed     string `json:"search_failed,omitempty" yaml:"search_failed"`
	SearchMaint      string `json:"search_maint,omitempty" yaml:"search_maint"`
	RequiresAuth     bool   `json:"requiresauth,omitempty" yaml:"requiresauth"`
	ProxyServer      int    `json:"proxy_server,omitempty" yaml:"proxy_server"`
	DNSQuery         string `json:"dns_query,omitempty" yaml:"dns_query"`   // name looked up
	DNSRecord        string `json:"dns_record,omitempty" yaml:"dns_record"` // record type, MX when empty
	LDAPSearch       string `json:"ldapsearch,omitempty" yaml:"ldapsearch"`
}

// Timeout returns the probe time budget.
func (t TestSpec) Timeout() time.Duration {
	if t.TimeoutTrigger <= 0 {
		return DefaultTimeout
	}
	return time.Duration(t.TimeoutTrigger) * time.Second
}

// Redacted returns a copy safe to hand out over the API.
func (t TestSpec) Redacted() TestSpec {
	t.Password = ""
	return t
}

// Proxy is an HTTP proxy a web test may be routed through.
type Proxy struct {
	ID        int    `json:"id" yaml:"id"`
	Name      string `json:"name,omitempty" yaml:"name"`
	Hostname  string `json:"hostname" yaml:"hostname"`
	HTTPPort  int    `json:"http_port" yaml:"http_port"`
	HTTPSPort int    `json:"https_port" yaml:"https_port"`
	Username  string `json:"username,omitempty" yaml:"username"`
	Password  string `json:"-" yaml:"password"`
}

// CA is a stored certificate bundle a test can pin its trust root to.
type CA struct {
	ID   int    `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name"`
	Cert string `json:"-" yaml:"cert"`
}
