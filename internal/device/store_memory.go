package device

type memoryStore struct {
	states map[Identity]*State
}

// NewMemoryStore returns an in-memory state table.
func NewMemoryStore() Store {
	return &memoryStore{
		states: make(map[Identity]*State),
	}
}

func (s *memoryStore) Load(id Identity) (*State, bool) {
	st, ok := s.states[id]
	return st, ok
}

func (s *memoryStore) LoadOrCreate(id Identity) *State {
	st, ok := s.states[id]
	if !ok {
		st = newState()
		s.states[id] = st
	}
	return st
}

func (s *memoryStore) Delete(id Identity) {
	delete(s.states, id)
}

func (s *memoryStore) Identities() []Identity {
	ids := make([]Identity, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}
