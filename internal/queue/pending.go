package queue

import "sync"

// Pending is the mutable set of identifiers still to be completed. Callers
// iterate a Snapshot and remove ids as they succeed; the snapshot itself is
// never modified.
type Pending struct {
	mu    sync.Mutex
	order []string
	ids   map[string]struct{}
}

// NewPending creates a pending set holding ids in order. Duplicates keep
// their first position.
func NewPending(ids []string) *Pending {
	p := &Pending{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if _, ok := p.ids[id]; ok {
			continue
		}
		p.ids[id] = struct{}{}
		p.order = append(p.order, id)
	}
	return p
}

// Contains reports whether id is still pending.
func (p *Pending) Contains(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.ids[id]
	return ok
}

// Remove marks id as done. It reports whether id was pending.
func (p *Pending) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ids[id]; !ok {
		return false
	}
	delete(p.ids, id)
	return true
}

// Len returns the number of pending ids.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Snapshot returns the pending ids in their original order.
func (p *Pending) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.ids))
	for _, id := range p.order {
		if _, ok := p.ids[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
