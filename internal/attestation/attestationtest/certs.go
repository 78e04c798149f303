// Package attestationtest generates certificates for tests.
package attestationtest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Authority is a self-signed CA able to issue device certificates.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
	PEM  []byte
}

// CertOptions shapes a generated certificate.
type CertOptions struct {
	CommonName string
	NotBefore  time.Time
	NotAfter   time.Time
	IsCA       bool
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func template(t testing.TB, opts CertOptions) *x509.Certificate {
	t.Helper()

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	if opts.NotBefore.IsZero() {
		opts.NotBefore = time.Now().Add(-time.Hour)
	}
	if opts.NotAfter.IsZero() {
		opts.NotAfter = time.Now().Add(24 * time.Hour)
	}
	if opts.CommonName == "" {
		opts.CommonName = "usbmon test"
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: opts.CommonName},
		NotBefore:             opts.NotBefore,
		NotAfter:              opts.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}
	if opts.IsCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	return tmpl
}

func encode(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// SelfSigned returns a PEM-encoded self-signed certificate.
func SelfSigned(t testing.TB, opts CertOptions) []byte {
	t.Helper()

	key := newKey(t)
	tmpl := template(t, opts)
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return encode(der)
}

// BadSignature returns a PEM certificate whose embedded public key does not
// match the key that signed it.
func BadSignature(t testing.TB) []byte {
	t.Helper()

	signer := newKey(t)
	other := newKey(t)
	tmpl := template(t, CertOptions{CommonName: "forged"})
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &other.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return encode(der)
}

// NewAuthority creates a CA valid for the next day.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()

	key := newKey(t)
	tmpl := template(t, CertOptions{CommonName: "usbmon test CA", IsCA: true})
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse CA: %v", err)
	}
	return &Authority{Cert: cert, Key: key, PEM: encode(der)}
}

// Issue returns the DER encoding of a device certificate signed by a.
func (a *Authority) Issue(t testing.TB, commonName string) []byte {
	t.Helper()

	key := newKey(t)
	tmpl := template(t, CertOptions{CommonName: commonName})
	der, err := x509.CreateCertificate(rand.Reader, tmpl, a.Cert, &key.PublicKey, a.Key)
	if err != nil {
		t.Fatalf("issue certificate: %v", err)
	}
	return der
}

// WriteFile writes data into a fresh file under t.TempDir and returns its path.
func WriteFile(t testing.TB, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// KeyPEM returns the authority's private key as an "EC PRIVATE KEY" block.
func (a *Authority) KeyPEM(t testing.TB) []byte {
	t.Helper()

	der, err := x509.MarshalECPrivateKey(a.Key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}
