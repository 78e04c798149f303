package attestation

import "crypto/x509"

// Store holds trusted certificates. Only validated certificates are added.
type Store interface {
	// Add stores a validated certificate.
	Add(tc TrustedCertificate) error
	// Remove drops the certificate with the given ID or path.
	Remove(id string) bool
	// List returns the trusted certificates in insertion order.
	List() []TrustedCertificate
	// Len returns the number of trusted certificates.
	Len() int
	// Pool returns the trusted certificates as verification roots.
	Pool() *x509.CertPool
}
