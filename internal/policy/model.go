package policy

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

var ErrInvalidSecurityLevel = errors.New("invalid security level")

// SecurityLevel is a named preset deriving an authorization policy.
type SecurityLevel int

const (
	LevelLow SecurityLevel = iota
	LevelMedium
	LevelHigh
	LevelCustom
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelLow:
		return "Low"
	case LevelMedium:
		return "Medium"
	case LevelHigh:
		return "High"
	case LevelCustom:
		return "Custom"
	default:
		return "Unknown"
	}
}

func (l SecurityLevel) Valid() bool {
	return l >= LevelLow && l <= LevelCustom
}

// ParseSecurityLevel accepts a level name (case-insensitive) or its number.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if l := SecurityLevel(n); l.Valid() {
			return l, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrInvalidSecurityLevel, n)
	}
	for l := LevelLow; l <= LevelCustom; l++ {
		if strings.EqualFold(l.String(), s) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidSecurityLevel, s)
}

// Rule is a whitelist/blacklist entry for one vendor/product pair.
// An empty AllowedInterfaces places no restriction on interfaces; a zero
// ExpiresAt never expires.
type Rule struct {
	VendorID             uint16
	ProductID            uint16
	Whitelisted          bool
	RequireAuthorization bool
	Level                SecurityLevel
	AllowedInterfaces    []device.Class
	ExpiresAt            time.Time
}

// DenyAll is the rule applied to devices no rule matches.
func DenyAll(vendor, product uint16) Rule {
	return Rule{VendorID: vendor, ProductID: product}
}

func (r Rule) ModelKey() string {
	return device.ModelKey(r.VendorID, r.ProductID)
}

func (r Rule) Matches(id device.Identity) bool {
	return r.VendorID == id.VendorID && r.ProductID == id.ProductID
}

// Permits reports whether every class is in the allow-list.
func (r Rule) Permits(classes []device.Class) bool {
	if len(r.AllowedInterfaces) == 0 {
		return true
	}
	for _, c := range classes {
		if !slices.Contains(r.AllowedInterfaces, c) {
			return false
		}
	}
	return true
}

func (r Rule) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
