package otel

import "sync"

// DefaultRingSize is how many recent events the debug view can show.
const DefaultRingSize = 512

// RingBuffer keeps the most recent journal events in memory.
type RingBuffer struct {
	mu     sync.Mutex
	events []Event
	next   int  // slot the next Push writes
	full   bool // every slot holds an event
}

func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &RingBuffer{events: make([]Event, size)}
}

// Push stores a copy of e, evicting the oldest event once full.
func (r *RingBuffer) Push(e Event) {
	if e.Extra != nil {
		extra := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			extra[k] = v
		}
		e.Extra = extra
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
}

// ordered returns the held events oldest first. Caller holds r.mu.
func (r *RingBuffer) ordered() []Event {
	if !r.full {
		return append([]Event(nil), r.events[:r.next]...)
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}

// Snapshot returns every held event, oldest first.
func (r *RingBuffer) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if out := r.ordered(); len(out) > 0 {
		return out
	}
	return nil
}

// Last returns up to n of the newest events, oldest first.
func (r *RingBuffer) Last(n int) []Event {
	return r.LastOf(n)
}

// LastOf is Last restricted to events of the given subsystems ("report",
// "incident", ...). With no subsystems it matches everything.
func (r *RingBuffer) LastOf(n int, subsystems ...string) []Event {
	if n <= 0 {
		return nil
	}
	r.mu.Lock()
	all := r.ordered()
	r.mu.Unlock()

	var picked []Event
	for i := len(all) - 1; i >= 0 && len(picked) < n; i-- {
		if inSubsystems(all[i].Kind, subsystems) {
			picked = append(picked, all[i])
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

func inSubsystems(k EventKind, subsystems []string) bool {
	if len(subsystems) == 0 {
		return true
	}
	for _, s := range subsystems {
		if k.Subsystem() == s {
			return true
		}
	}
	return false
}

func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.events)
	}
	return r.next
}

func (r *RingBuffer) Cap() int {
	return len(r.events)
}

// Stats tallies held events by kind.
func (r *RingBuffer) Stats() map[EventKind]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[EventKind]int)
	for _, e := range r.ordered() {
		counts[e.Kind]++
	}
	return counts
}
