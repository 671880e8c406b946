package certs

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/servcheck/prober/internal/domain"
)

// Materialize writes a stored CA bundle to a temp file unique to one probe
// invocation. The returned cleanup removes it and is safe to call more than once.
func Materialize(dir string, caID int, probeID string, pem []byte) (string, func() error, error) {
	f, err := os.CreateTemp(dir, fmt.Sprintf("cert%d-%s-*.pem", caID, probeID))
	if err != nil {
		return "", nil, fmt.Errorf("create ca file: %w", err)
	}
	path := f.Name()
	cleanup := func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	_, werr := f.Write(pem)
	if err := multierr.Append(werr, f.Close()); err != nil {
		return "", nil, multierr.Append(fmt.Errorf("write ca file: %w", err), cleanup())
	}
	return path, cleanup, nil
}

// LoadPool reads a PEM bundle into a fresh pool.
func LoadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("invalid CA bundle %s", path)
	}
	return pool, nil
}

// Describe converts a peer chain, leaf first.
func Describe(chain []*x509.Certificate) []domain.CertificateInfo {
	if len(chain) == 0 {
		return nil
	}
	out := make([]domain.CertificateInfo, 0, len(chain))
	for _, c := range chain {
		out = append(out, domain.CertificateInfo{
			Subject:      c.Subject.String(),
			Issuer:       c.Issuer.String(),
			SerialNumber: hex.EncodeToString(c.SerialNumber.Bytes()),
			DNSNames:     c.DNSNames,
			NotBefore:    c.NotBefore.UTC(),
			NotAfter:     c.NotAfter.UTC(),
		})
	}
	return out
}

// DaysUntil returns whole days from now to expiry, rounded to nearest.
// Negative means already expired.
func DaysUntil(expiry, now time.Time) int {
	return int(math.Round(expiry.Sub(now).Hours() / 24))
}
