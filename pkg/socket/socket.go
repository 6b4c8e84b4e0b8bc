// Package socket holds the per-link state the adapter folds notifications
// into: a four-state machine and the fixed table of slots.
package socket

import "strconv"

// MaxSockets is the number of links the firmware multiplexes (link ids 0..4).
const MaxSockets = 5

// State is where a link is in its lifecycle.
type State int

const (
	Closed State = iota
	Open
	Connected
	HalfClosed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Connected:
		return "connected"
	case HalfClosed:
		return "half-closed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Event drives a transition that does not depend on a command reply.
type Event int

const (
	// RemoteClose is a "<id>,CLOSED" notification.
	RemoteClose Event = iota
	// LocalClose is the caller releasing the slot.
	LocalClose
	numEvents
)

const numStates = HalfClosed + 1

var transitions = [numStates][numEvents]State{
	Closed:     {RemoteClose: Closed, LocalClose: Closed},
	Open:       {RemoteClose: HalfClosed, LocalClose: Closed},
	Connected:  {RemoteClose: HalfClosed, LocalClose: Closed},
	HalfClosed: {RemoteClose: Closed, LocalClose: Closed},
}

// Next returns the state that follows s on event e.
func Next(s State, e Event) State {
	return transitions[s][e]
}

// Socket is one link slot. Available counts bytes the co-processor holds for
// the link that have not been read yet; it is zero whenever State is Closed.
type Socket struct {
	State     State
	Available int
}

// Apply moves the socket along event e.
func (s *Socket) Apply(e Event) {
	s.State = Next(s.State, e)
	if s.State == Closed {
		s.Available = 0
	}
}

// Table is the adapter's fixed set of slots, indexed by link id.
type Table [MaxSockets]Socket

// Valid reports whether id names a slot.
func Valid(id int) bool {
	return id >= 0 && id < MaxSockets
}

// FirstClosed returns the lowest link id whose slot is Closed.
func (t *Table) FirstClosed() (int, bool) {
	for id := range t {
		if t[id].State == Closed {
			return id, true
		}
	}
	return 0, false
}
