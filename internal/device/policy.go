package device

import (
	"context"
	"fmt"
	"time"
)

// DefaultAuthorizationTimeout bounds the interactive confirmation wait.
const DefaultAuthorizationTimeout = 30 * time.Second

// ReauthorizationWindow is how long a positive verdict stays valid.
const ReauthorizationWindow = 24 * time.Hour

// Policy is the global authorization policy. It is replaced wholesale.
type Policy struct {
	AutoAuthorizeKnownDevices bool          `json:"autoAuthorizeKnownDevices"`
	RequireUserConfirmation   bool          `json:"requireUserConfirmation"`
	CheckDeviceCertificates   bool          `json:"checkDeviceCertificates"`
	EnforceSystemPolicies     bool          `json:"enforceSystemPolicies"`
	AuthorizationTimeout      time.Duration `json:"authorizationTimeout"`
}

// DefaultPolicy matches the Medium security level.
func DefaultPolicy() Policy {
	return Policy{
		AutoAuthorizeKnownDevices: true,
		RequireUserConfirmation:   true,
		EnforceSystemPolicies:     true,
		AuthorizationTimeout:      DefaultAuthorizationTimeout,
	}
}

// Method tags how a verdict was reached.
type Method uint8

const (
	MethodAutomatic Method = iota
	MethodUserPrompt
	MethodSystemPolicy
	MethodCertificate
	MethodCustom
)

func (m Method) String() string {
	switch m {
	case MethodAutomatic:
		return "automatic"
	case MethodUserPrompt:
		return "user_prompt"
	case MethodSystemPolicy:
		return "system_policy"
	case MethodCertificate:
		return "certificate"
	case MethodCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// MarshalText encodes the method by name.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a method name.
func (m *Method) UnmarshalText(text []byte) error {
	for c := MethodAutomatic; c <= MethodCustom; c++ {
		if c.String() == string(text) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("unknown authorization method %q", text)
}

// Result is one authorization verdict. It is never mutated once recorded.
type Result struct {
	Authorized bool      `json:"authorized"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
	Method     Method    `json:"method"`
}

const (
	ReasonAlreadyAuthorized = "Already authorized"
	ReasonKnownDevice       = "Known device type"
	ReasonSystemPolicy      = "System policy violation"
	ReasonCertificate       = "Certificate validation failed"
	ReasonUserAuthorized    = "User authorized device"
	ReasonUserDenied        = "User denied authorization"
	ReasonPromptTimedOut    = "Authorization prompt timed out"
	ReasonPromptCancelled   = "Authorization prompt cancelled"
	ReasonNoConfirmer       = "No confirmation provider available"
	ReasonAllChecksPassed   = "All checks passed"
	ReasonRevoked           = "Authorization revoked"
)

// CustomMethod is a pluggable decision for one vendor/product model.
// A denying result stops the decision procedure.
type CustomMethod func(ctx context.Context, d Descriptor) Result
