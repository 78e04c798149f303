package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a security-relevant event.
type Kind uint8

const (
	KindAuthorizationGranted Kind = iota
	KindAuthorizationDenied
	KindUnauthorizedAccess
	KindPolicyViolation
	KindProtocolViolation
)

func (k Kind) String() string {
	switch k {
	case KindAuthorizationGranted:
		return "AuthorizationGranted"
	case KindAuthorizationDenied:
		return "AuthorizationDenied"
	case KindUnauthorizedAccess:
		return "UnauthorizedAccess"
	case KindPolicyViolation:
		return "PolicyViolation"
	case KindProtocolViolation:
		return "ProtocolViolation"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindAuthorizationGranted; c <= KindProtocolViolation; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown audit event kind %q", text)
}

// Event is one entry of the audit log.
type Event struct {
	ID          uuid.UUID `json:"id"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"deviceId"` // vendor:product, upper-case hex
	Description string    `json:"description"`
	Level       string    `json:"securityLevel"` // security level in force when recorded
}

// NewEvent stamps a fresh event.
func NewEvent(kind Kind, at time.Time, deviceID, description, level string) Event {
	return Event{
		ID:          uuid.New(),
		Kind:        kind,
		Timestamp:   at,
		DeviceID:    deviceID,
		Description: description,
		Level:       level,
	}
}
