package catalog

import "sync"

// Subscription delivers change signals for a set of tables. C receives one
// (coalesced) signal after every committed write transaction that touched a
// watched table. Signals carry no payload; subscribers re-run their query.
type Subscription struct {
	C      <-chan struct{}
	ch     chan struct{}
	tables map[string]struct{}
	owner  *notifier
}

// Cancel detaches the subscription. The channel is not closed, so a
// concurrent receiver simply stops seeing signals.
func (sub *Subscription) Cancel() {
	if sub == nil || sub.owner == nil {
		return
	}
	sub.owner.remove(sub)
	sub.owner = nil
}

// notifier fans committed-write signals out to subscriptions. publish is
// called only after a transaction commits and never blocks the writer: the
// signal channel holds one pending notification and further ones coalesce.
type notifier struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscribe registers interest in the given tables (see the Table*
// constants). With no tables given, every write signals.
func (s *Store) Subscribe(tables ...string) *Subscription {
	ch := make(chan struct{}, 1)
	sub := &Subscription{C: ch, ch: ch, owner: &s.notes}
	if len(tables) > 0 {
		sub.tables = make(map[string]struct{}, len(tables))
		for _, t := range tables {
			sub.tables[t] = struct{}{}
		}
	}
	s.notes.mu.Lock()
	if s.notes.subs == nil {
		s.notes.subs = make(map[*Subscription]struct{})
	}
	s.notes.subs[sub] = struct{}{}
	s.notes.mu.Unlock()
	return sub
}

func (n *notifier) remove(sub *Subscription) {
	n.mu.Lock()
	delete(n.subs, sub)
	n.mu.Unlock()
}

func (n *notifier) publish(tables ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		if !sub.watches(tables) {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
			// A signal is already pending; the subscriber will re-query
			// anyway.
		}
	}
}

func (sub *Subscription) watches(tables []string) bool {
	if sub.tables == nil {
		return true
	}
	for _, t := range tables {
		if _, ok := sub.tables[t]; ok {
			return true
		}
	}
	return false
}
