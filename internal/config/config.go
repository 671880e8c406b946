package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string        // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir        string        // logs directory
	CatalogPath   string        // YAML file with tests, CAs and proxies
	Debug         bool          // debug level logging, mirrored to stderr
	UserAgent     string        // sent by web probes
	CABundle      string        // default trust file when a test pins no CA
	TmpDir        string        // where CA and capture temp files go
	MaxBodyBytes  int64         // response bytes kept per probe
	RetryAttempts int           // attempts per probe while the failure is transport level
	RetryBackoff  time.Duration // backoff between retries
	MaxConcurrent int           // probes in flight for multi-test runs

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	AllowedOrigins []string // CORS; empty allows any origin
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
}

func FromEnv() Config {
	// Bind address (Windows-friendly default)
	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	// Logs
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}

	catalog := os.Getenv("SERVCHECK_CONFIG")
	if catalog == "" {
		catalog = "servcheck.yaml"
	}

	tmp := os.Getenv("SERVCHECK_TMP_DIR")
	if tmp == "" {
		tmp = os.TempDir()
	}

	return Config{
		Addr:           addr,
		LogDir:         logDir,
		CatalogPath:    catalog,
		Debug:          envBool("SERVCHECK_DEBUG"),
		UserAgent:      os.Getenv("SERVCHECK_USER_AGENT"),
		CABundle:       os.Getenv("SERVCHECK_CA_BUNDLE"),
		TmpDir:         tmp,
		MaxBodyBytes:   int64(envInt("SERVCHECK_MAX_BODY_BYTES", 1<<20, 1)),
		RetryAttempts:  envInt("RETRY_ATTEMPTS", 3, 1),
		RetryBackoff:   time.Duration(envInt("RETRY_BACKOFF_MS", 10, 0)) * time.Millisecond,
		MaxConcurrent:  envInt("MAX_CONCURRENT_PROBES", 4, 1),
		PublicAPIKeys:  envList("PUBLIC_API_KEYS"),
		AdminAPIKeys:   envList("ADMIN_API_KEYS"),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),
		PublicRPM:      envInt("PUBLIC_RPM", 120, 0),
		PublicBurst:    envInt("PUBLIC_BURST", 60, 1),
		AdminRPM:       envInt("ADMIN_RPM", 30, 0),
		AdminBurst:     envInt("ADMIN_BURST", 10, 1),
	}
}

// envInt falls back to def when the variable is unset, malformed or below min.
func envInt(key string, def, min int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		return def
	}
	return n
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
