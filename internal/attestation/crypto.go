package attestation

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrNoPEMBlock         = errors.New("no PEM certificate block found")
	ErrNotYetValid        = errors.New("certificate is not yet valid")
	ErrExpired            = errors.New("certificate has expired")
	ErrInvalidSignature   = errors.New("certificate self-signature does not verify")
	ErrUnsupportedPEMType = errors.New("unsupported PEM block type")
)

// LoadPEMCertificate reads the first CERTIFICATE block from path.
func LoadPEMCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading certificate %q: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("certificate %q: %w", path, ErrNoPEMBlock)
	}
	if block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("certificate %q: %w %q", path, ErrUnsupportedPEMType, block.Type)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certificate %q: %w", path, err)
	}
	return cert, nil
}

// ValidateSelfSigned checks that cert is inside its validity window at now
// and that its signature verifies with its own public key.
func ValidateSelfSigned(cert *x509.Certificate, now time.Time) error {
	if now.Before(cert.NotBefore) {
		return ErrNotYetValid
	}
	if now.After(cert.NotAfter) {
		return ErrExpired
	}

	// CheckSignature skips the CA constraint checks CheckSignatureFrom
	// applies, so self-signed leaf certificates are accepted.
	if err := cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// Fingerprint returns the SHA-256 fingerprint of the DER encoding.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
