package device

import (
	"time"

	"github.com/kvthweatt/USB-Monitor/internal/ringbuf"
)

// HistoryCapacity bounds each unit's verdict history.
const HistoryCapacity = 100

// State is the authorization state of one unit.
type State struct {
	Authorized  bool
	LastAttempt time.Time
	history     *ringbuf.Ring[Result]
}

func newState() *State {
	return &State{history: ringbuf.New[Result](HistoryCapacity)}
}

// Fresh reports whether the state holds a positive verdict younger than
// the re-authorization window.
func (s *State) Fresh(now time.Time) bool {
	return s.Authorized && now.Sub(s.LastAttempt) < ReauthorizationWindow
}

// Append records r, silently evicting the oldest entry when full.
func (s *State) Append(r Result) {
	s.history.Push(r)
}

// History returns a copy of the recorded verdicts, oldest first.
func (s *State) History() []Result {
	return s.history.Snapshot()
}

// ClearHistory drops every recorded verdict.
func (s *State) ClearHistory() {
	s.history.Clear()
}

// Store is the per-unit state table. Implementations are not required to
// be safe for concurrent use; the Authorizer serializes access.
type Store interface {
	// Load returns the state for id, if any.
	Load(id Identity) (*State, bool)
	// LoadOrCreate returns the state for id, creating it on first use.
	LoadOrCreate(id Identity) *State
	// Delete removes the state for id.
	Delete(id Identity)
	// Identities lists every unit with recorded state.
	Identities() []Identity
}
