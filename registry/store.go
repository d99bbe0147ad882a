package registry

import (
	"sort"
	"sync"
	"time"
)

// Record is the server-side state of one session. The registry owns Handle;
// callers outside this package only ever see SessionInfo snapshots.
type Record struct {
	ID           string
	ResourceName string
	Handle       Handle
	Closed       bool
	CreatedAt    time.Time
}

// SessionInfo is a read-only snapshot of an open session.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	ResourceName string    `json:"resource_name"`
	Kind         string    `json:"kind"`
	CreatedAt    time.Time `json:"created_at"`
}

type nameLock struct {
	mu   sync.RWMutex
	refs int
}

// store maps resource names to open records and session ids back to names.
// mu guards the maps and the lock table and is only ever held briefly; the
// per-name locks serialize Initialize and Close of one name while letting
// unrelated names proceed independently.
type store struct {
	mu     sync.Mutex
	byName map[string]*Record
	byID   map[string]string
	locks  map[string]*nameLock
}

func newStore() *store {
	return &store{
		byName: make(map[string]*Record),
		byID:   make(map[string]string),
		locks:  make(map[string]*nameLock),
	}
}

// lock takes the per-name lock, exclusive or shared, and returns its release
// function. Entries are dropped from the table once nobody holds or waits.
func (s *store) lock(name string, exclusive bool) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &nameLock{}
		s.locks[name] = l
	}
	l.refs++
	s.mu.Unlock()

	if exclusive {
		l.mu.Lock()
	} else {
		l.mu.RLock()
	}

	return func() {
		if exclusive {
			l.mu.Unlock()
		} else {
			l.mu.RUnlock()
		}
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *store) get(name string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

// nameOf returns the resource name a session id is bound to.
func (s *store) nameOf(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.byID[id]
	return name, ok
}

// current returns the open record for id, or nil when the id is unknown or
// the name has since been bound to a different session.
func (s *store) current(id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.byID[id]
	if !ok {
		return nil
	}
	rec := s.byName[name]
	if rec == nil || rec.ID != id || rec.Closed {
		return nil
	}
	return rec
}

func (s *store) insert(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[rec.ResourceName] = rec
	s.byID[rec.ID] = rec.ResourceName
}

// remove marks rec closed and drops it from both indexes.
func (s *store) remove(rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Closed = true
	if cur, ok := s.byName[rec.ResourceName]; ok && cur == rec {
		delete(s.byName, rec.ResourceName)
	}
	delete(s.byID, rec.ID)
}

// snapshot returns the open records ordered by creation time.
func (s *store) snapshot() []Record {
	s.mu.Lock()
	out := make([]Record, 0, len(s.byName))
	for _, rec := range s.byName {
		out = append(out, *rec)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
