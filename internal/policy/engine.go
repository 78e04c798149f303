package policy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvthweatt/USB-Monitor/internal/audit"
	"github.com/kvthweatt/USB-Monitor/internal/device"
	"github.com/kvthweatt/USB-Monitor/internal/metrics"
	"github.com/kvthweatt/USB-Monitor/internal/notify"
)

const (
	ReasonNotAllowed      = "Device is not allowed by security rules"
	ReasonProtocolFailure = "Device failed protocol validation"
	ReasonInterfaces      = "Device violates interface restrictions"
	ReasonProtocolSpec    = "Device violates USB protocol specifications"
)

// Gate names the check that stopped a device.
type Gate string

const (
	GateNone       Gate = ""
	GateRules      Gate = "rules"
	GateProtocol   Gate = "protocol"
	GateAuthorizer Gate = "authorizer"
)

// Authorizer is the per-unit decision procedure the engine delegates to.
// Defined here to keep device free of policy imports.
//
//go:generate mockgen -destination=mock_policy.go -package=policy github.com/kvthweatt/USB-Monitor/internal/policy Authorizer
type Authorizer interface {
	Authorize(ctx context.Context, d device.Descriptor) device.Result
	Revoke(id device.Identity)
	SetPolicy(p device.Policy)
	Policy() device.Policy
}

// revocationSource is an Authorizer that reports revocations made on it
// directly, bypassing the engine.
type revocationSource interface {
	OnRevoke(fn func(device.Identity))
}

type Config struct {
	Logger     zerolog.Logger
	Authorizer Authorizer
	Rules      Store
	Audit      *audit.Log
	Clock      device.Clock
	Notifier   notify.Publisher
	Metrics    *metrics.Recorder
}

// Verdict is the outcome of AuthorizeDevice. Result is set only when the
// Authorizer was consulted.
type Verdict struct {
	Authorized bool           `json:"authorized"`
	Gate       Gate           `json:"gate,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Result     *device.Result `json:"result,omitempty"`
}

// Engine applies security rules and protocol heuristics before delegating
// to the Authorizer, and keeps the audit trail.
//
// mu guards the rules, the security level and the per-model cache. It is
// released before calling the Authorizer, the audit log or the notifier.
type Engine struct {
	log        zerolog.Logger
	authorizer Authorizer
	audit      *audit.Log
	clock      device.Clock
	notifier   notify.Publisher
	metrics    *metrics.Recorder
	// hooked is set when the Authorizer reports every revocation itself.
	hooked bool

	mu         sync.Mutex
	rules      Store
	level      SecurityLevel
	authorized map[string]bool // keyed by vendor:product
}

// NewEngine starts at the Medium level, which matches the Authorizer's
// default policy.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		log:        cfg.Logger.With().Str("component", "policy_engine").Logger(),
		authorizer: cfg.Authorizer,
		audit:      cfg.Audit,
		clock:      cfg.Clock,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		rules:      cfg.Rules,
		level:      LevelMedium,
		authorized: make(map[string]bool),
	}
	if e.audit == nil {
		e.audit = audit.NewLog(audit.DefaultCapacity)
	}
	if e.clock == nil {
		e.clock = device.RealClock()
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.rules == nil {
		e.rules = NewMemoryStore()
	}
	if src, ok := e.authorizer.(revocationSource); ok {
		src.OnRevoke(func(id device.Identity) { e.revoked(context.Background(), id) })
		e.hooked = true
	}
	return e
}

// IsDeviceAllowed applies the matching rule, or the deny-all rule when none
// matches. A model already authorized through AuthorizeDevice is allowed
// without consulting the rules.
func (e *Engine) IsDeviceAllowed(ctx context.Context, d device.Descriptor) bool {
	id := d.Identity
	now := e.clock.Now()

	e.mu.Lock()
	if ok, hit := e.authorized[id.ModelKey()]; hit {
		e.mu.Unlock()
		return ok
	}
	rule, found := e.rules.Match(id.VendorID, id.ProductID)
	e.mu.Unlock()

	if !found {
		rule = DenyAll(id.VendorID, id.ProductID)
	}

	if !rule.Whitelisted {
		e.logEvent(ctx, audit.KindUnauthorizedAccess, id, "Device is not whitelisted")
		return false
	}
	if !rule.Permits(d.InterfaceClasses()) {
		e.logEvent(ctx, audit.KindPolicyViolation, id, "Device uses unauthorized interfaces")
		return false
	}
	if rule.Expired(now) {
		e.logEvent(ctx, audit.KindPolicyViolation, id, "Security rule has expired")
		return false
	}
	return true
}

// ValidateProtocol runs the anomaly heuristics and records the first
// violation found.
func (e *Engine) ValidateProtocol(ctx context.Context, d device.Descriptor) bool {
	if anomaly := ScanProtocol(d); anomaly != "" {
		e.logEvent(ctx, audit.KindProtocolViolation, d.Identity, anomaly)
		return false
	}
	return true
}

// AuthorizeDevice runs the rule gate, the protocol gate and the Authorizer
// in order, stopping at the first failure.
func (e *Engine) AuthorizeDevice(ctx context.Context, d device.Descriptor) bool {
	return e.Evaluate(ctx, d).Authorized
}

// Evaluate is AuthorizeDevice with the details of the outcome.
func (e *Engine) Evaluate(ctx context.Context, d device.Descriptor) Verdict {
	if !e.IsDeviceAllowed(ctx, d) {
		return e.block(ctx, d.Identity, GateRules, ReasonNotAllowed, nil)
	}
	if !e.ValidateProtocol(ctx, d) {
		return e.block(ctx, d.Identity, GateProtocol, ReasonProtocolFailure, nil)
	}

	res := e.authorizer.Authorize(ctx, d)
	if !res.Authorized {
		e.logEvent(ctx, audit.KindAuthorizationDenied, d.Identity, "Authorization failed: "+res.Reason)
		return e.block(ctx, d.Identity, GateAuthorizer, res.Reason, &res)
	}

	e.logEvent(ctx, audit.KindAuthorizationGranted, d.Identity, "Device authorization granted")

	e.mu.Lock()
	e.authorized[d.Identity.ModelKey()] = true
	e.mu.Unlock()

	return Verdict{Authorized: true, Reason: res.Reason, Result: &res}
}

func (e *Engine) block(ctx context.Context, id device.Identity, gate Gate, reason string, res *device.Result) Verdict {
	e.metrics.Blocked(ctx, string(gate))

	n := notify.New(notify.KindDeviceBlocked, e.clock.Now())
	n.Device = id.String()
	n.Reason = reason
	e.notifier.Publish(n)

	e.log.Warn().
		Str("device", id.String()).
		Str("gate", string(gate)).
		Str("reason", reason).
		Msg("device blocked")

	return Verdict{Gate: gate, Reason: reason, Result: res}
}

// RevokeAuthorization revokes the unit and forgets the model's coarse flag.
// Revocations made directly on a *device.Authorizer get the same treatment
// through its OnRevoke hook.
func (e *Engine) RevokeAuthorization(ctx context.Context, id device.Identity) {
	e.authorizer.Revoke(id)
	if !e.hooked {
		e.revoked(ctx, id)
	}
}

func (e *Engine) revoked(ctx context.Context, id device.Identity) {
	e.mu.Lock()
	delete(e.authorized, id.ModelKey())
	e.mu.Unlock()

	e.logEvent(ctx, audit.KindAuthorizationDenied, id, "Device authorization revoked")
}

// CheckDeviceCompliance re-checks interface restrictions and protocol shape
// of a device that is already present.
func (e *Engine) CheckDeviceCompliance(ctx context.Context, d device.Descriptor) bool {
	id := d.Identity

	e.mu.Lock()
	rule, found := e.rules.Match(id.VendorID, id.ProductID)
	e.mu.Unlock()
	if !found {
		rule = DenyAll(id.VendorID, id.ProductID)
	}

	compliant := true
	if !rule.Permits(d.InterfaceClasses()) {
		compliant = false
		e.logEvent(ctx, audit.KindPolicyViolation, id, "Non-compliant interface detected")
		e.block(ctx, id, GateRules, ReasonInterfaces, nil)
	}
	if !e.ValidateProtocol(ctx, d) {
		compliant = false
		e.logEvent(ctx, audit.KindProtocolViolation, id, "Protocol validation failed")
		e.block(ctx, id, GateProtocol, ReasonProtocolSpec, nil)
	}
	return compliant
}

// AddSecurityRule replaces any rule for the same vendor/product pair.
func (e *Engine) AddSecurityRule(r Rule) {
	e.mu.Lock()
	e.rules.Upsert(r)
	delete(e.authorized, r.ModelKey())
	e.mu.Unlock()

	e.log.Info().
		Str("model", r.ModelKey()).
		Bool("whitelisted", r.Whitelisted).
		Msg("security rule added")
	e.configurationChanged()
}

// RemoveSecurityRule reports whether a rule for the pair existed.
func (e *Engine) RemoveSecurityRule(vendor, product uint16) bool {
	e.mu.Lock()
	removed := e.rules.Remove(vendor, product)
	if removed {
		delete(e.authorized, device.ModelKey(vendor, product))
	}
	e.mu.Unlock()

	if removed {
		e.log.Info().Str("model", device.ModelKey(vendor, product)).Msg("security rule removed")
		e.configurationChanged()
	}
	return removed
}

func (e *Engine) SecurityRules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.List()
}

func (e *Engine) ClearSecurityRules() {
	e.mu.Lock()
	e.rules.Replace(nil)
	clear(e.authorized)
	e.mu.Unlock()

	e.log.Info().Msg("security rules cleared")
	e.configurationChanged()
}

// SetSecurityLevel switches level and pushes its preset to the Authorizer.
// Custom pushes nothing. Setting the current level is a no-op.
func (e *Engine) SetSecurityLevel(level SecurityLevel) error {
	if !level.Valid() {
		return ErrInvalidSecurityLevel
	}

	e.mu.Lock()
	if e.level == level {
		e.mu.Unlock()
		return nil
	}
	e.level = level
	e.mu.Unlock()

	if p, ok := Preset(level); ok {
		e.authorizer.SetPolicy(p)
	}

	n := notify.New(notify.KindSecurityLevelChanged, e.clock.Now())
	n.Level = level.String()
	e.notifier.Publish(n)

	e.log.Info().Str("level", level.String()).Msg("security level changed")
	return nil
}

func (e *Engine) SecurityLevel() SecurityLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// SetCustomSecurityPolicy loads the security config at path and switches to
// the Custom level.
func (e *Engine) SetCustomSecurityPolicy(path string) error {
	if err := e.LoadSecurityConfig(path); err != nil {
		return err
	}
	return e.SetSecurityLevel(LevelCustom)
}

// SecurityEvents returns the audit events with start <= timestamp <= end.
func (e *Engine) SecurityEvents(start, end time.Time) []audit.Event {
	return e.audit.Range(start, end)
}

func (e *Engine) ClearSecurityEvents() {
	e.audit.Clear()
}

func (e *Engine) logEvent(ctx context.Context, kind audit.Kind, id device.Identity, description string) {
	level := e.SecurityLevel()

	ev := audit.NewEvent(kind, e.clock.Now(), id.ModelKey(), description, level.String())
	e.audit.Append(ev)
	e.metrics.SecurityEvent(ctx, kind.String())

	n := notify.New(notify.KindSecurityEvent, ev.Timestamp)
	n.Device = id.String()
	n.Reason = description
	n.Level = ev.Level
	n.Event = &ev
	e.notifier.Publish(n)

	e.log.Debug().
		Str("kind", kind.String()).
		Str("device", id.String()).
		Str("description", description).
		Msg("security event")
}

func (e *Engine) configurationChanged() {
	e.notifier.Publish(notify.New(notify.KindConfigurationChanged, e.clock.Now()))
}
