package attestation

import (
	"crypto/x509"
	"errors"
	"sync"
)

var ErrAlreadyTrusted = errors.New("certificate already trusted")

type memoryStore struct {
	mu    sync.RWMutex
	certs []TrustedCertificate
}

// NewMemoryStore returns an empty in-memory trust store.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) Add(tc TrustedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.certs {
		if existing.ID == tc.ID {
			return ErrAlreadyTrusted
		}
	}
	s.certs = append(s.certs, tc)
	return nil
}

func (s *memoryStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, tc := range s.certs {
		if tc.ID == id || tc.Path == id {
			s.certs = append(s.certs[:i], s.certs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *memoryStore) List() []TrustedCertificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrustedCertificate, len(s.certs))
	copy(out, s.certs)
	return out
}

func (s *memoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certs)
}

func (s *memoryStore) Pool() *x509.CertPool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := x509.NewCertPool()
	for _, tc := range s.certs {
		pool.AddCert(tc.Cert)
	}
	return pool
}
