package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kvthweatt/USB-Monitor/internal/attestation"
	"github.com/kvthweatt/USB-Monitor/internal/metrics"
	"github.com/kvthweatt/USB-Monitor/internal/notify"
)

var (
	ErrSpeedClassMismatch = errors.New("high-speed device class on a full-speed or slower link")
	ErrRestrictedClass    = errors.New("device class requires elevated scrutiny")
)

// Config wires an Authorizer to its collaborators. Only Logger is
// expected; every other field has a usable default.
type Config struct {
	Logger    zerolog.Logger
	Store     Store
	Trust     attestation.Store
	Confirmer Confirmer
	Clock     Clock
	Notifier  notify.Publisher
	Metrics   *metrics.Recorder
	Policy    *Policy
}

// Authorizer decides, caches and records per-unit authorization verdicts.
//
// One mutex guards the state table, the policy, the confirmer and the
// custom methods. It is never held while calling the Confirmer, a custom
// method, the trust store or the notifier. Concurrent Authorize calls for
// the same unit are not deduplicated.
type Authorizer struct {
	log      zerolog.Logger
	trust    attestation.Store
	clock    Clock
	notifier notify.Publisher
	metrics  *metrics.Recorder

	mu        sync.Mutex
	states    Store
	policy    Policy
	confirmer Confirmer
	custom    map[string]CustomMethod
	onRevoke  func(Identity)
}

func NewAuthorizer(cfg Config) *Authorizer {
	a := &Authorizer{
		log:       cfg.Logger.With().Str("component", "authorizer").Logger(),
		trust:     cfg.Trust,
		clock:     cfg.Clock,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		states:    cfg.Store,
		policy:    DefaultPolicy(),
		confirmer: cfg.Confirmer,
		custom:    make(map[string]CustomMethod),
	}
	if a.trust == nil {
		a.trust = attestation.NewMemoryStore()
	}
	if a.clock == nil {
		a.clock = RealClock()
	}
	if a.notifier == nil {
		a.notifier = notify.Nop{}
	}
	if a.states == nil {
		a.states = NewMemoryStore()
	}
	if cfg.Policy != nil {
		a.policy = *cfg.Policy
	}
	return a
}

// Authorize runs the decision procedure for d. It returns within the
// policy's authorization timeout even when the Confirmer never answers.
func (a *Authorizer) Authorize(ctx context.Context, d Descriptor) Result {
	now := a.clock.Now()

	a.mu.Lock()
	st := a.states.LoadOrCreate(d.Identity)
	if st.Fresh(now) {
		a.mu.Unlock()
		return Result{Authorized: true, Reason: ReasonAlreadyAuthorized, Timestamp: now, Method: MethodAutomatic}
	}
	st.Authorized = false
	st.LastAttempt = now
	pol := a.policy
	confirmer := a.confirmer
	custom := a.custom[d.Identity.ModelKey()]
	a.mu.Unlock()

	res := a.decide(ctx, d, now, pol, confirmer, custom)
	a.record(ctx, d, res)
	return res
}

func (a *Authorizer) decide(ctx context.Context, d Descriptor, now time.Time, pol Policy, confirmer Confirmer, custom CustomMethod) Result {
	if pol.AutoAuthorizeKnownDevices && isKnownClass(d.Class) {
		return Result{Authorized: true, Reason: ReasonKnownDevice, Timestamp: now, Method: MethodAutomatic}
	}

	if pol.EnforceSystemPolicies {
		if err := CheckSystemPolicy(d); err != nil {
			a.log.Debug().Err(err).Str("device", d.Identity.String()).Msg("system policy rejected device")
			return Result{Reason: ReasonSystemPolicy, Timestamp: now, Method: MethodSystemPolicy}
		}
	}

	if pol.CheckDeviceCertificates {
		if err := attestation.VerifyPresented(a.trust, d.Certificate, now); err != nil {
			a.log.Debug().Err(err).Str("device", d.Identity.String()).Msg("certificate check failed")
			return Result{Reason: ReasonCertificate, Timestamp: now, Method: MethodCertificate}
		}
	}

	if custom != nil {
		res := custom(ctx, d)
		if !res.Authorized {
			res.Method = MethodCustom
			if res.Timestamp.IsZero() {
				res.Timestamp = now
			}
			if res.Reason == "" {
				res.Reason = "Denied by custom authorization method"
			}
			return res
		}
	}

	if pol.RequireUserConfirmation {
		return a.confirm(ctx, d, pol.AuthorizationTimeout, confirmer)
	}

	return Result{Authorized: true, Reason: ReasonAllChecksPassed, Timestamp: now, Method: MethodAutomatic}
}

type confirmReply struct {
	answer Answer
	err    error
}

// confirm races the Confirmer against the timeout. Anything other than an
// explicit accept before the deadline is a denial.
func (a *Authorizer) confirm(ctx context.Context, d Descriptor, timeout time.Duration, c Confirmer) Result {
	if c == nil {
		return Result{Reason: ReasonNoConfirmer, Timestamp: a.clock.Now(), Method: MethodUserPrompt}
	}
	if timeout <= 0 {
		timeout = DefaultAuthorizationTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := ConfirmRequest{Summary: Summary(d), Timeout: timeout, Device: d}
	replies := make(chan confirmReply, 1)
	go func() {
		answer, err := c.Confirm(ctx, req)
		replies <- confirmReply{answer: answer, err: err}
	}()

	reason := ReasonUserDenied
	authorized := false

	select {
	case r := <-replies:
		switch {
		case r.err != nil:
			a.log.Warn().Err(r.err).Str("device", d.Identity.String()).Msg("confirmation provider failed")
			if errors.Is(r.err, context.DeadlineExceeded) {
				reason = ReasonPromptTimedOut
			}
		case r.answer == AnswerAccept:
			authorized = true
			reason = ReasonUserAuthorized
		case r.answer == AnswerTimedOut:
			reason = ReasonPromptTimedOut
		}
	case <-ctx.Done():
		reason = ReasonPromptTimedOut
		if errors.Is(ctx.Err(), context.Canceled) {
			reason = ReasonPromptCancelled
		}
	}

	return Result{Authorized: authorized, Reason: reason, Timestamp: a.clock.Now(), Method: MethodUserPrompt}
}

// record appends res to the unit's history and publishes the outcome.
// The cached flag takes the value of the last completed attempt.
func (a *Authorizer) record(ctx context.Context, d Descriptor, res Result) {
	a.mu.Lock()
	st := a.states.LoadOrCreate(d.Identity)
	if st.LastAttempt.IsZero() {
		st.LastAttempt = res.Timestamp
	}
	st.Authorized = res.Authorized
	st.Append(res)
	a.mu.Unlock()

	a.metrics.Decision(ctx, res.Method.String(), res.Authorized)

	n := notify.New(notify.KindDeviceAuthorized, res.Timestamp)
	n.Device = d.Identity.String()
	n.Reason = res.Reason
	if !res.Authorized {
		n.Kind = notify.KindAuthorizationFailed
	}
	a.notifier.Publish(n)

	a.log.Info().
		Str("device", d.Identity.String()).
		Str("class", d.Class.String()).
		Bool("authorized", res.Authorized).
		Str("method", res.Method.String()).
		Str("reason", res.Reason).
		Msg("authorization decision")
}

// Revoke clears the unit's cached verdict and records the revocation.
// It does not interrupt an in-flight Authorize for the same unit.
func (a *Authorizer) Revoke(id Identity) {
	now := a.clock.Now()
	res := Result{Reason: ReasonRevoked, Timestamp: now, Method: MethodAutomatic}

	a.mu.Lock()
	st := a.states.LoadOrCreate(id)
	st.Authorized = false
	st.LastAttempt = now
	st.Append(res)
	hook := a.onRevoke
	a.mu.Unlock()

	n := notify.New(notify.KindAuthorizationRevoked, now)
	n.Device = id.String()
	n.Reason = res.Reason
	a.notifier.Publish(n)

	a.log.Info().Str("device", id.String()).Msg("authorization revoked")

	if hook != nil {
		hook(id)
	}
}

// OnRevoke registers fn to run after every revocation, whoever requested
// it. fn runs without the Authorizer's lock held. A nil fn clears the hook.
func (a *Authorizer) OnRevoke(fn func(Identity)) {
	a.mu.Lock()
	a.onRevoke = fn
	a.mu.Unlock()
}

// IsAuthorized reports whether id holds a positive verdict younger than
// ReauthorizationWindow.
func (a *Authorizer) IsAuthorized(id Identity) bool {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states.Load(id)
	return ok && st.Fresh(now)
}

// SetPolicy replaces the policy wholesale.
func (a *Authorizer) SetPolicy(p Policy) {
	a.mu.Lock()
	a.policy = p
	a.mu.Unlock()

	a.notifier.Publish(notify.New(notify.KindPolicyChanged, a.clock.Now()))
	a.log.Info().
		Bool("autoAuthorizeKnown", p.AutoAuthorizeKnownDevices).
		Bool("requireConfirmation", p.RequireUserConfirmation).
		Bool("checkCertificates", p.CheckDeviceCertificates).
		Bool("enforceSystemPolicies", p.EnforceSystemPolicies).
		Dur("timeout", p.AuthorizationTimeout).
		Msg("authorization policy changed")
}

func (a *Authorizer) Policy() Policy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy
}

// SetConfirmer replaces the confirmation provider. A nil provider denies
// every prompt.
func (a *Authorizer) SetConfirmer(c Confirmer) {
	a.mu.Lock()
	a.confirmer = c
	a.mu.Unlock()
}

// AddTrustedCertificate validates the PEM certificate at path and trusts it.
// Invalid certificates are never added.
func (a *Authorizer) AddTrustedCertificate(path string) (attestation.TrustedCertificate, error) {
	tc, err := attestation.Trust(a.trust, path, a.clock.Now())
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("rejected trusted certificate")
		return attestation.TrustedCertificate{}, err
	}
	a.log.Info().Str("path", path).Str("subject", tc.Subject).Msg("trusted certificate added")
	return tc, nil
}

// RemoveTrustedCertificate drops a certificate by fingerprint or path.
func (a *Authorizer) RemoveTrustedCertificate(id string) bool {
	return a.trust.Remove(id)
}

func (a *Authorizer) TrustedCertificates() []attestation.TrustedCertificate {
	return a.trust.List()
}

// RegisterCustomMethod installs fn for every unit whose ModelKey is key.
// A nil fn removes the method.
func (a *Authorizer) RegisterCustomMethod(key string, fn CustomMethod) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fn == nil {
		delete(a.custom, key)
		return
	}
	a.custom[key] = fn
}

// History returns the unit's verdicts, oldest first.
func (a *Authorizer) History(id Identity) []Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states.Load(id)
	if !ok {
		return nil
	}
	return st.History()
}

func (a *Authorizer) ClearHistory(id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if st, ok := a.states.Load(id); ok {
		st.ClearHistory()
	}
}

// Forget drops all state recorded for id.
func (a *Authorizer) Forget(id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.states.Delete(id)
}

// Devices lists every unit with recorded state.
func (a *Authorizer) Devices() []Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states.Identities()
}

func isKnownClass(c Class) bool {
	switch c {
	case ClassHID, ClassHub, ClassPrinter, ClassMassStorage:
		return true
	default:
		return false
	}
}

// CheckSystemPolicy applies the speed/class mismatch and restricted class
// heuristics to d.
func CheckSystemPolicy(d Descriptor) error {
	if d.Speed >= SpeedHigh && (d.LinkSpeed == SpeedLow || d.LinkSpeed == SpeedFull) {
		switch d.Class {
		case ClassMassStorage, ClassVideo, ClassAudioVideo:
			return ErrSpeedClassMismatch
		}
	}

	switch d.Class {
	case ClassVendorSpecific, ClassDiagnostic, ClassWireless:
		return ErrRestrictedClass
	}
	return nil
}
