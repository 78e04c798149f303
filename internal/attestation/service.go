package attestation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoTrustedCertificates = errors.New("no trusted certificates configured")
	ErrUntrustedCertificate  = errors.New("device certificate is not trusted")
)

// Trust loads the certificate at path, validates it at now and adds it to store.
func Trust(store Store, path string, now time.Time) (TrustedCertificate, error) {
	cert, err := LoadPEMCertificate(path)
	if err != nil {
		return TrustedCertificate{}, err
	}

	if err := ValidateSelfSigned(cert, now); err != nil {
		return TrustedCertificate{}, fmt.Errorf("certificate %q: %w", path, err)
	}

	tc := TrustedCertificate{
		ID:        Fingerprint(cert),
		Path:      path,
		Subject:   cert.Subject.String(),
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Cert:      cert,
	}
	if err := store.Add(tc); err != nil {
		return TrustedCertificate{}, err
	}
	return tc, nil
}

// VerifyPresented checks a device against the trust store. An empty store
// always fails. A device that presents no certificate passes once at least
// one certificate is trusted; a presented DER certificate must chain to a
// trusted certificate at now.
func VerifyPresented(store Store, der []byte, now time.Time) error {
	if store == nil || store.Len() == 0 {
		return ErrNoTrustedCertificates
	}
	if len(der) == 0 {
		return nil
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedCertificate, err)
	}

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:       store.Pool(),
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUntrustedCertificate, err)
	}
	return nil
}
