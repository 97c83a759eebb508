package relay

import "time"

// Reason explains why a push was treated as a no-op duplicate.
type Reason string

const (
	ReasonOpenAlready      Reason = "OPEN_ALREADY"
	ReasonCloseWithoutOpen Reason = "CLOSE_WITHOUT_OPEN"
	ReasonCloseAlready     Reason = "CLOSE_ALREADY"
	ReasonNoOpenPosition   Reason = "NO_OPEN_POSITION"
	ReasonResubmit         Reason = "RESUBMIT"
)

// ticketTracker is the per-group finite state machine deciding whether an
// incoming push is a legitimate transition or a duplicate. Not safe for
// concurrent use; the owning group's lock serializes access.
type ticketTracker struct {
	states map[string]TicketState
}

func newTicketTracker() *ticketTracker {
	return &ticketTracker{states: make(map[string]TicketState)}
}

// Accept runs one transition. Rejections are not errors: they tell the
// caller the push was a no-op and no event id should be consumed.
//
// States are NO_EVENT (no entry), OPEN (IsOpen) and CLOSED (entry with
// IsOpen=false). CLOSED→OPEN is accepted: a positionKey that encodes open
// time legitimately reappears when a new lifecycle begins.
func (t *ticketTracker) Accept(positionKey string, typ EventType, now time.Time) (bool, Reason) {
	st, known := t.states[positionKey]

	switch typ {
	case EventOpen:
		if known && st.IsOpen {
			return false, ReasonOpenAlready
		}
	case EventClose:
		if !known {
			return false, ReasonCloseWithoutOpen
		}
		if !st.IsOpen {
			return false, ReasonCloseAlready
		}
	case EventModify:
		// No position to modify unless currently open.
		if !known || !st.IsOpen {
			return false, ReasonNoOpenPosition
		}
		t.states[positionKey] = TicketState{IsOpen: true, LastType: st.LastType, UpdatedAt: now}
		return true, ""
	default:
		return false, ReasonNoOpenPosition
	}

	t.states[positionKey] = TicketState{
		IsOpen:    typ == EventOpen,
		LastType:  typ,
		UpdatedAt: now,
	}
	return true, ""
}

// restore puts a positionKey back to a previously observed state. Used to
// roll back an accepted transition when the durable flush of the push fails.
func (t *ticketTracker) restore(positionKey string, st TicketState, known bool) {
	if !known {
		delete(t.states, positionKey)
		return
	}
	t.states[positionKey] = st
}

// retire forgets a positionKey entirely. Called by GC once the lifecycle's
// events are fully acknowledged and removed.
func (t *ticketTracker) retire(positionKey string) {
	delete(t.states, positionKey)
}

func (t *ticketTracker) get(positionKey string) (TicketState, bool) {
	st, ok := t.states[positionKey]
	return st, ok
}

func (t *ticketTracker) snapshot() map[string]TicketState {
	out := make(map[string]TicketState, len(t.states))
	for k, v := range t.states {
		out[k] = v
	}
	return out
}
