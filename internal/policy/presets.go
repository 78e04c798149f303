package policy

import (
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

// HighAuthorizationTimeout is the shortened prompt wait of the High level.
const HighAuthorizationTimeout = 15 * time.Second

// Preset derives the authorization policy of level. Custom has no preset.
func Preset(level SecurityLevel) (device.Policy, bool) {
	switch level {
	case LevelLow:
		return device.Policy{
			AutoAuthorizeKnownDevices: true,
			AuthorizationTimeout:      device.DefaultAuthorizationTimeout,
		}, true
	case LevelMedium:
		return device.Policy{
			AutoAuthorizeKnownDevices: true,
			RequireUserConfirmation:   true,
			EnforceSystemPolicies:     true,
			AuthorizationTimeout:      device.DefaultAuthorizationTimeout,
		}, true
	case LevelHigh:
		return device.Policy{
			RequireUserConfirmation: true,
			CheckDeviceCertificates: true,
			EnforceSystemPolicies:   true,
			AuthorizationTimeout:    HighAuthorizationTimeout,
		}, true
	default:
		return device.Policy{}, false
	}
}
