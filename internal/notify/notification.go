// Package notify fans authorization notifications out to subscribers.
//
// Components publish into a Bus; the composing application drains
// subscriptions (UI, logging, NATS). Publishing never blocks the caller.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/kvthweatt/USB-Monitor/internal/audit"
)

// Kind names a notification.
type Kind string

const (
	KindDeviceAuthorized     Kind = "device-authorized"
	KindAuthorizationRevoked Kind = "device-authorization-revoked"
	KindAuthorizationFailed  Kind = "authorization-failed"
	KindPolicyChanged        Kind = "policy-changed"
	KindSecurityEvent        Kind = "security-event-occurred"
	KindSecurityLevelChanged Kind = "security-level-changed"
	KindDeviceBlocked        Kind = "device-blocked"
	KindConfigurationChanged Kind = "configuration-changed"
)

// Notification is a single published message.
type Notification struct {
	ID     uuid.UUID    `json:"id"`
	Kind   Kind         `json:"kind"`
	Time   time.Time    `json:"time"`
	Device string       `json:"device,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Level  string       `json:"securityLevel,omitempty"`
	Event  *audit.Event `json:"event,omitempty"`
}

// New builds a notification of the given kind.
func New(kind Kind, at time.Time) Notification {
	return Notification{ID: uuid.New(), Kind: kind, Time: at}
}

// Publisher accepts notifications. Implementations must not block.
type Publisher interface {
	Publish(n Notification)
}

// Nop discards every notification.
type Nop struct{}

// Publish drops n.
func (Nop) Publish(Notification) {}
