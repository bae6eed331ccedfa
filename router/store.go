package router

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 64

type venueKey struct {
	venue string
	id    string
}

type stripe struct {
	mu       sync.Mutex
	children map[string]*ChildState
}

// ChildStore owns every live child order plus the reverse indices a venue
// report is resolved through. Mutations of one child are serialized by the
// stripe its id hashes to; the indices change together with the state.
type ChildStore struct {
	stripes []stripe
	mask    uint64

	idx          sync.RWMutex
	byClOrdID    map[venueKey]string
	byVenueOrder map[venueKey]string
	byParent     map[string]map[string]struct{}
}

// NewChildStore creates a store. stripes is rounded up to a power of 2.
func NewChildStore(stripes int) *ChildStore {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	n := 1
	for n < stripes {
		n <<= 1
	}

	s := &ChildStore{
		stripes:      make([]stripe, n),
		mask:         uint64(n - 1),
		byClOrdID:    make(map[venueKey]string),
		byVenueOrder: make(map[venueKey]string),
		byParent:     make(map[string]map[string]struct{}),
	}
	for i := range s.stripes {
		s.stripes[i].children = make(map[string]*ChildState)
	}
	return s
}

func (s *ChildStore) stripe(childID string) *stripe {
	return &s.stripes[xxhash.Sum64String(childID)&s.mask]
}

// Insert registers a new child.
func (s *ChildStore) Insert(cs ChildState) error {
	st := s.stripe(cs.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.children[cs.ID]; ok {
		return ErrDuplicateChild
	}

	s.idx.Lock()
	defer s.idx.Unlock()
	if cs.VenueOrderID != "" {
		if owner, ok := s.byVenueOrder[venueKey{cs.Venue, cs.VenueOrderID}]; ok && owner != cs.ID {
			return ErrVenueOrderConflict
		}
	}

	st.children[cs.ID] = &cs
	s.index(&cs)
	return nil
}

// Reducer computes the next state of a child from its current state and an
// event. It must not retain state.
type Reducer[E any] func(state ChildState, ev E) (ChildState, Effects)

// Apply runs reduce against the current state of childID under the child's
// lock and commits the result. A missing child is reported as
// ErrUnknownChild and nothing is changed. A result that would bind a venue
// order id owned by another child is discarded with ErrVenueOrderConflict.
// Terminal children are retired.
func Apply[E any](s *ChildStore, childID string, ev E, reduce Reducer[E]) (Effects, error) {
	st := s.stripe(childID)
	st.mu.Lock()
	defer st.mu.Unlock()

	cur, ok := st.children[childID]
	if !ok {
		return Effects{}, ErrUnknownChild
	}

	next, fx := reduce(*cur, ev)
	next.ID = cur.ID

	s.idx.Lock()
	defer s.idx.Unlock()
	if next.VenueOrderID != "" && next.VenueOrderID != cur.VenueOrderID {
		if owner, ok := s.byVenueOrder[venueKey{next.Venue, next.VenueOrderID}]; ok && owner != childID {
			return Effects{}, ErrVenueOrderConflict
		}
	}

	s.unindex(cur)
	if next.Terminal() {
		delete(st.children, childID)
		return fx, nil
	}
	s.index(&next)
	st.children[childID] = &next
	return fx, nil
}

// index adds the keys of next. Callers hold s.idx.
func (s *ChildStore) index(next *ChildState) {
	if next.ClOrdID != "" {
		s.byClOrdID[venueKey{next.Venue, next.ClOrdID}] = next.ID
	}
	if next.VenueOrderID != "" {
		s.byVenueOrder[venueKey{next.Venue, next.VenueOrderID}] = next.ID
	}
	siblings, ok := s.byParent[next.ParentID]
	if !ok {
		siblings = make(map[string]struct{})
		s.byParent[next.ParentID] = siblings
	}
	siblings[next.ID] = struct{}{}
}

// unindex removes the keys of cur. Callers hold s.idx.
func (s *ChildStore) unindex(cur *ChildState) {
	if cur.ClOrdID != "" {
		delete(s.byClOrdID, venueKey{cur.Venue, cur.ClOrdID})
	}
	if cur.VenueOrderID != "" {
		delete(s.byVenueOrder, venueKey{cur.Venue, cur.VenueOrderID})
	}
	if siblings, ok := s.byParent[cur.ParentID]; ok {
		delete(siblings, cur.ID)
		if len(siblings) == 0 {
			delete(s.byParent, cur.ParentID)
		}
	}
}

// Get returns a copy of the state of childID.
func (s *ChildStore) Get(childID string) (ChildState, bool) {
	st := s.stripe(childID)
	st.mu.Lock()
	defer st.mu.Unlock()

	cs, ok := st.children[childID]
	if !ok {
		return ChildState{}, false
	}
	return *cs, true
}

// ByVenueOrderID resolves a venue-assigned order id to a child id.
func (s *ChildStore) ByVenueOrderID(venue, venueOrderID string) (string, bool) {
	s.idx.RLock()
	defer s.idx.RUnlock()
	id, ok := s.byVenueOrder[venueKey{venue, venueOrderID}]
	return id, ok
}

// ByClOrdID resolves the client order id sent to a venue to a child id.
func (s *ChildStore) ByClOrdID(venue, clOrdID string) (string, bool) {
	s.idx.RLock()
	defer s.idx.RUnlock()
	id, ok := s.byClOrdID[venueKey{venue, clOrdID}]
	return id, ok
}

// Children returns the live child ids of parentID in ascending order.
func (s *ChildStore) Children(parentID string) []string {
	s.idx.RLock()
	siblings := s.byParent[parentID]
	ids := make([]string, 0, len(siblings))
	for id := range siblings {
		ids = append(ids, id)
	}
	s.idx.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of live children.
func (s *ChildStore) Len() int {
	n := 0
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		n += len(st.children)
		st.mu.Unlock()
	}
	return n
}
