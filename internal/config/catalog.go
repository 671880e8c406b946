package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/servcheck/prober/internal/domain"
	"github.com/servcheck/prober/internal/target"
)

// Catalog is the set of configured tests and the CAs and proxies they refer to.
type Catalog struct {
	Tests   []domain.TestSpec `yaml:"tests"`
	CAs     []domain.CA       `yaml:"cas"`
	Proxies []domain.Proxy    `yaml:"proxies"`
}

func LoadCatalog(ctx context.Context, path string) (Catalog, error) {
	var cat Catalog

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cat, fmt.Errorf("open catalog %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cat, fmt.Errorf("read catalog %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cat); err != nil {
		return cat, fmt.Errorf("parse catalog %q: %w", path, err)
	}

	return cat, nil
}

// Validate reports every problem in the catalog, not just the first.
func (c Catalog) Validate() error {
	var errs error

	cas := make(map[int]bool, len(c.CAs))
	for _, ca := range c.CAs {
		if cas[ca.ID] {
			errs = multierr.Append(errs, fmt.Errorf("ca %d: duplicate id", ca.ID))
		}
		cas[ca.ID] = true
	}
	proxies := make(map[int]bool, len(c.Proxies))
	for _, p := range c.Proxies {
		if proxies[p.ID] {
			errs = multierr.Append(errs, fmt.Errorf("proxy %d: duplicate id", p.ID))
		}
		proxies[p.ID] = true
	}

	seen := make(map[int]bool, len(c.Tests))
	for _, t := range c.Tests {
		if seen[t.ID] {
			errs = multierr.Append(errs, fmt.Errorf("test %d: duplicate id", t.ID))
		}
		seen[t.ID] = true

		if t.Hostname == "" && t.Type != "restapi" {
			errs = multierr.Append(errs, fmt.Errorf("test %d: empty hostname", t.ID))
		}
		if strings.HasPrefix(t.Type, "dns_") && t.DNSQuery == "" {
			errs = multierr.Append(errs, fmt.Errorf("test %d: %w", t.ID, domain.ErrEmptyQuery))
		}
		if t.CA > 0 && !cas[t.CA] {
			errs = multierr.Append(errs, fmt.Errorf("test %d: unknown ca %d", t.ID, t.CA))
		}
		if t.ProxyServer > 0 && !proxies[t.ProxyServer] {
			errs = multierr.Append(errs, fmt.Errorf("test %d: unknown proxy %d", t.ID, t.ProxyServer))
		}
		if _, err := target.Build(t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("test %d: %w", t.ID, err))
		}
	}
	return errs
}
