package attestation

import (
	"crypto/x509"
	"time"
)

// TrustedCertificate is a certificate that passed validation when it was
// added to the trust store.
type TrustedCertificate struct {
	ID        string            `json:"id"` // SHA-256 fingerprint, lower-case hex
	Path      string            `json:"path"`
	Subject   string            `json:"subject"`
	NotBefore time.Time         `json:"notBefore"`
	NotAfter  time.Time         `json:"notAfter"`
	Cert      *x509.Certificate `json:"-"`
}
