package pipeline

import (
	"sync"

	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/app/sor"
)

// The stores are written only by the pipeline goroutine. Their locks exist
// for API readers taking snapshots.

type ParentStore struct {
	mu sync.RWMutex
	m  map[string]oms.State
}

func NewParentStore() *ParentStore {
	return &ParentStore{m: make(map[string]oms.State)}
}

// Get returns the zero State for unknown ids.
func (s *ParentStore) Get(id string) oms.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id]
}

func (s *ParentStore) Lookup(id string) (oms.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[id]
	return st, ok
}

func (s *ParentStore) Put(st oms.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[st.ParentID] = st
}

func (s *ParentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Live returns the ids of parents that are not terminal.
func (s *ParentStore) Live() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for id, st := range s.m {
		if !st.IsDone() {
			out = append(out, id)
		}
	}
	return out
}

type ChildStore struct {
	mu       sync.RWMutex
	m        map[string]sor.ChildState
	byParent map[string][]string // creation order
}

func NewChildStore() *ChildStore {
	return &ChildStore{
		m:        make(map[string]sor.ChildState),
		byParent: make(map[string][]string),
	}
}

func (s *ChildStore) Get(id string) sor.ChildState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[id]
}

func (s *ChildStore) Put(c sor.ChildState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[c.ChildID]; !ok {
		s.byParent[c.ParentID] = append(s.byParent[c.ParentID], c.ChildID)
	}
	s.m[c.ChildID] = c
}

func (s *ChildStore) ByParent(parentID string) []sor.ChildState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byParent[parentID]
	out := make([]sor.ChildState, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.m[id])
	}
	return out
}

func (s *ChildStore) Live(parentID string) []sor.ChildState {
	var out []sor.ChildState
	for _, c := range s.ByParent(parentID) {
		if c.IsLive() {
			out = append(out, c)
		}
	}
	return out
}

type sessionKey struct {
	session string
	clOrdID string
}

// SessionIndex maps (session, client order id) to a parent id.
type SessionIndex struct {
	mu sync.Mutex
	m  map[sessionKey]string
}

func NewSessionIndex() *SessionIndex {
	return &SessionIndex{m: make(map[sessionKey]string)}
}

func (x *SessionIndex) Lookup(session, clOrdID string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.m[sessionKey{session, clOrdID}]
	return id, ok
}

// PutIfAbsent stores parentID unless the key is taken, and returns the id
// that ended up stored.
func (x *SessionIndex) PutIfAbsent(session, clOrdID, parentID string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	k := sessionKey{session, clOrdID}
	if cur, ok := x.m[k]; ok {
		return cur, false
	}
	x.m[k] = parentID
	return parentID, true
}

// CancelRegistry tracks open cancel episodes: which parents want their
// children canceled, and which children have already been sent a cancel.
type CancelRegistry struct {
	mu     sync.Mutex
	wanted map[string]bool
	sent   map[string]map[string]bool
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		wanted: make(map[string]bool),
		sent:   make(map[string]map[string]bool),
	}
}

func (r *CancelRegistry) MarkWanted(parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wanted[parentID] = true
}

func (r *CancelRegistry) IsWanted(parentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.wanted[parentID]
}

// MarkChild returns true the first time a child is marked in an episode.
func (r *CancelRegistry) MarkChild(parentID, childID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.sent[parentID]
	if set == nil {
		set = make(map[string]bool)
		r.sent[parentID] = set
	}
	if set[childID] {
		return false
	}
	set[childID] = true
	return true
}

// Clear ends the parent's episode.
func (r *CancelRegistry) Clear(parentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wanted, parentID)
	delete(r.sent, parentID)
}
