package oms

import (
	"github.com/igrmk/treemap/v2"
)

// Store holds parent orders. It is owned by the pipeline loop and is not
// safe for concurrent use.
//
// Live orders are also kept in an index ordered by acceptance, so session
// end walks them in the order they arrived. Terminal orders leave the index
// and stay readable until Purge.
type Store struct {
	orders map[string]OrderState
	seqs   map[string]uint64
	active *treemap.TreeMap[uint64, string]
	next   uint64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		orders: make(map[string]OrderState),
		seqs:   make(map[string]uint64),
		active: treemap.New[uint64, string](),
	}
}

// Get returns the state of parent id.
func (s *Store) Get(id string) (OrderState, bool) {
	st, ok := s.orders[id]
	return st, ok
}

// Put stores st, accepting it if the id is new.
func (s *Store) Put(st OrderState) {
	seq, ok := s.seqs[st.ID]
	if !ok {
		s.next++
		seq = s.next
		s.seqs[st.ID] = seq
	}
	s.orders[st.ID] = st

	if st.Terminal() {
		s.active.Del(seq)
		return
	}
	s.active.Set(seq, st.ID)
}

// Active returns the ids of live orders in acceptance order.
func (s *Store) Active() []string {
	ids := make([]string, 0, s.active.Len())
	for it := s.active.Iterator(); it.Valid(); it.Next() {
		ids = append(ids, it.Value())
	}
	return ids
}

// Purge drops every terminal order and returns how many were dropped.
func (s *Store) Purge() int {
	n := 0
	for id, st := range s.orders {
		if !st.Terminal() {
			continue
		}
		delete(s.orders, id)
		delete(s.seqs, id)
		n++
	}
	return n
}

// Len returns the number of stored orders, live or terminal.
func (s *Store) Len() int {
	return len(s.orders)
}

// ActiveLen returns the number of live orders.
func (s *Store) ActiveLen() int {
	return s.active.Len()
}
