package core

import "sort"

// ScopeID is a named uniform slot. Values are float32, int, []float32,
// mgl32 vectors and matrices, or Texture.
type ScopeID struct {
	Name    string
	value   any
	version uint64
}

func (s *ScopeID) SetValue(v any) {
	s.value = v
	s.version++
}

func (s *ScopeID) Value() any      { return s.value }
func (s *ScopeID) Version() uint64 { return s.version }

// Scope resolves uniform names once so hot paths keep *ScopeID handles.
type Scope struct {
	ids map[string]*ScopeID
}

func NewScope() *Scope {
	return &Scope{ids: make(map[string]*ScopeID)}
}

func (s *Scope) Resolve(name string) *ScopeID {
	if id, ok := s.ids[name]; ok {
		return id
	}
	id := &ScopeID{Name: name}
	s.ids[name] = id
	return id
}

func (s *Scope) Lookup(name string) (*ScopeID, bool) {
	id, ok := s.ids[name]
	return id, ok
}

func (s *Scope) Names() []string {
	names := make([]string, 0, len(s.ids))
	for n := range s.ids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
