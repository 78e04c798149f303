package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/device"
)

// ExpiryLayout is the ctime layout used for rule expiry dates, in local time.
const ExpiryLayout = time.ANSIC

var ErrInvalidConfig = errors.New("invalid security config")

// Document is the persisted security configuration.
type Document struct {
	SecurityLevel SecurityLevel
	// LevelSet is false when the file has no securityLevel key. Apply then
	// keeps the engine's current level.
	LevelSet bool
	Rules    []Rule
	// Policy is honored only when the effective level is Custom.
	Policy *device.Policy
}

type documentJSON struct {
	SecurityLevel       *SecurityLevel  `json:"securityLevel"`
	Rules               []Rule          `json:"rules"`
	AuthorizationPolicy *policyDocument `json:"authorizationPolicy,omitempty"`
}

type policyDocument struct {
	AutoAuthorizeKnownDevices bool `json:"autoAuthorizeKnownDevices"`
	RequireUserConfirmation   bool `json:"requireUserConfirmation"`
	CheckDeviceCertificates   bool `json:"checkDeviceCertificates"`
	EnforceSystemPolicies     bool `json:"enforceSystemPolicies"`
	AuthorizationTimeout      int  `json:"authorizationTimeout"` // seconds
}

type ruleJSON struct {
	VendorID             string        `json:"vendorId"`
	ProductID            string        `json:"productId"`
	IsWhitelisted        bool          `json:"isWhitelisted"`
	RequireAuthorization bool          `json:"requireAuthorization"`
	SecurityLevel        SecurityLevel `json:"securityLevel"`
	AllowedInterfaces    []string      `json:"allowedInterfaces"`
	ExpiryDate           string        `json:"expiryDate,omitempty"`
}

// MarshalJSON encodes ids as lower-case hex and interfaces as "0xNN".
func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{
		VendorID:             strconv.FormatUint(uint64(r.VendorID), 16),
		ProductID:            strconv.FormatUint(uint64(r.ProductID), 16),
		IsWhitelisted:        r.Whitelisted,
		RequireAuthorization: r.RequireAuthorization,
		SecurityLevel:        r.Level,
		AllowedInterfaces:    make([]string, 0, len(r.AllowedInterfaces)),
	}
	for _, c := range r.AllowedInterfaces {
		out.AllowedInterfaces = append(out.AllowedInterfaces, c.Hex())
	}
	if !r.ExpiresAt.IsZero() {
		out.ExpiryDate = r.ExpiresAt.Local().Format(ExpiryLayout)
	}
	return json.Marshal(out)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	vendor, err := device.ParseID(in.VendorID)
	if err != nil {
		return fmt.Errorf("vendorId: %w", err)
	}
	product, err := device.ParseID(in.ProductID)
	if err != nil {
		return fmt.Errorf("productId: %w", err)
	}
	if !in.SecurityLevel.Valid() {
		return fmt.Errorf("rule %s: %w: %d", device.ModelKey(vendor, product), ErrInvalidSecurityLevel, in.SecurityLevel)
	}

	rule := Rule{
		VendorID:             vendor,
		ProductID:            product,
		Whitelisted:          in.IsWhitelisted,
		RequireAuthorization: in.RequireAuthorization,
		Level:                in.SecurityLevel,
	}
	for _, s := range in.AllowedInterfaces {
		c, err := device.ParseClass(s)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ModelKey(), err)
		}
		rule.AllowedInterfaces = append(rule.AllowedInterfaces, c)
	}
	if rule.ExpiresAt, err = ParseExpiry(in.ExpiryDate); err != nil {
		return fmt.Errorf("rule %s: %w", rule.ModelKey(), err)
	}

	*r = rule
	return nil
}

// ParseExpiry reads an expiry date in ExpiryLayout (local time), falling
// back to RFC 3339. An empty string means no expiry.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(ExpiryLayout, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiryDate %q", s)
	}
	return t, nil
}

// ParseDocument decodes and validates a security config.
func ParseDocument(data []byte) (Document, error) {
	var in documentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	doc := Document{Rules: in.Rules}
	if lvl := in.SecurityLevel; lvl != nil {
		if !lvl.Valid() {
			return Document{}, fmt.Errorf("%w: %w: %d", ErrInvalidConfig, ErrInvalidSecurityLevel, *lvl)
		}
		doc.SecurityLevel = *lvl
		doc.LevelSet = true
	}
	if p := in.AuthorizationPolicy; p != nil {
		if p.AuthorizationTimeout < 0 {
			return Document{}, fmt.Errorf("%w: negative authorizationTimeout", ErrInvalidConfig)
		}
		doc.Policy = &device.Policy{
			AutoAuthorizeKnownDevices: p.AutoAuthorizeKnownDevices,
			RequireUserConfirmation:   p.RequireUserConfirmation,
			CheckDeviceCertificates:   p.CheckDeviceCertificates,
			EnforceSystemPolicies:     p.EnforceSystemPolicies,
			AuthorizationTimeout:      time.Duration(p.AuthorizationTimeout) * time.Second,
		}
	}
	return doc, nil
}

// Marshal encodes doc as indented JSON.
func (doc Document) Marshal() ([]byte, error) {
	level := doc.SecurityLevel
	out := documentJSON{SecurityLevel: &level, Rules: doc.Rules}
	if out.Rules == nil {
		out.Rules = []Rule{}
	}
	if doc.Policy != nil && doc.SecurityLevel == LevelCustom {
		out.AuthorizationPolicy = &policyDocument{
			AutoAuthorizeKnownDevices: doc.Policy.AutoAuthorizeKnownDevices,
			RequireUserConfirmation:   doc.Policy.RequireUserConfirmation,
			CheckDeviceCertificates:   doc.Policy.CheckDeviceCertificates,
			EnforceSystemPolicies:     doc.Policy.EnforceSystemPolicies,
			AuthorizationTimeout:      int(doc.Policy.AuthorizationTimeout / time.Second),
		}
	}
	return json.MarshalIndent(out, "", "  ")
}

// LoadSecurityConfig replaces the rule set and security level with the
// contents of path. Nothing changes unless the whole file parses.
func (e *Engine) LoadSecurityConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading security config %q: %w", path, err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return fmt.Errorf("security config %q: %w", path, err)
	}

	e.Apply(doc)
	e.log.Info().
		Str("path", path).
		Int("rules", len(doc.Rules)).
		Str("level", e.SecurityLevel().String()).
		Bool("levelFromFile", doc.LevelSet).
		Msg("security config loaded")
	return nil
}

// Apply installs doc atomically with respect to rule lookups.
func (e *Engine) Apply(doc Document) {
	e.mu.Lock()
	e.rules.Replace(doc.Rules)
	clear(e.authorized)
	e.mu.Unlock()

	level := e.SecurityLevel()
	if doc.LevelSet {
		// Valid here; ParseDocument checked it.
		_ = e.SetSecurityLevel(doc.SecurityLevel)
		level = doc.SecurityLevel
	}
	if level == LevelCustom && doc.Policy != nil {
		e.authorizer.SetPolicy(*doc.Policy)
	}

	e.configurationChanged()
}

// Snapshot returns the current configuration as a Document.
func (e *Engine) Snapshot() Document {
	e.mu.Lock()
	doc := Document{SecurityLevel: e.level, LevelSet: true, Rules: e.rules.List()}
	e.mu.Unlock()

	if doc.SecurityLevel == LevelCustom {
		p := e.authorizer.Policy()
		doc.Policy = &p
	}
	return doc
}

// SaveSecurityConfig writes the current configuration to path, replacing
// the file atomically.
func (e *Engine) SaveSecurityConfig(path string) error {
	data, err := e.Snapshot().Marshal()
	if err != nil {
		return fmt.Errorf("encoding security config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing security config %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing security config %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing security config %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing security config %q: %w", path, err)
	}

	e.log.Info().Str("path", path).Msg("security config saved")
	return nil
}
