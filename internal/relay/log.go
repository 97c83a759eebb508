package relay

import "fmt"

// groupLog is one group's append-only event sequence. Ids are assigned here,
// strictly increasing within the group, never reused. Not safe for
// concurrent use; the owning group's lock serializes access.
type groupLog struct {
	events []*Event
	nextID int64

	// dedupe is the idempotency index: "TYPE|positionKey" → live event id.
	// It catches network-retry duplicates that the ticket tracker cannot
	// (the tracker already moved on, but the master resends the same push).
	// MODIFY events are exempt: successive modifies with identical keys are
	// distinct, legitimate events.
	dedupe map[string]int64

	// equity is the last positive master equity seen on any push, used as a
	// fallback for events that omit the field.
	equity float64
}

func newGroupLog() *groupLog {
	return &groupLog{nextID: 1, dedupe: make(map[string]int64)}
}

func dedupeKey(typ EventType, positionKey string) string {
	return fmt.Sprintf("%s|%s", typ, positionKey)
}

// lookupDuplicate returns the id of a live event already appended for the
// same (type, positionKey), or 0.
func (l *groupLog) lookupDuplicate(typ EventType, positionKey string) int64 {
	if typ == EventModify {
		return 0
	}
	return l.dedupe[dedupeKey(typ, positionKey)]
}

// append assigns the next id, stores the event and indexes it.
func (l *groupLog) append(ev *Event) int64 {
	ev.ID = l.nextID
	l.nextID++
	l.events = append(l.events, ev)
	if ev.Type != EventModify {
		l.dedupe[dedupeKey(ev.Type, ev.PositionKey)] = ev.ID
	}
	return ev.ID
}

// dropLast undoes the most recent append. Only valid immediately after
// append, before any other mutation; used when the durable flush fails.
func (l *groupLog) dropLast(ev *Event) {
	if n := len(l.events); n > 0 && l.events[n-1] == ev {
		l.events = l.events[:n-1]
		l.nextID--
	}
	if ev.Type != EventModify && l.dedupe[dedupeKey(ev.Type, ev.PositionKey)] == ev.ID {
		delete(l.dedupe, dedupeKey(ev.Type, ev.PositionKey))
	}
}

// get returns the live event with the given id, or nil.
func (l *groupLog) get(id int64) *Event {
	for _, ev := range l.events {
		if ev.ID == id {
			return ev
		}
	}
	return nil
}

// pending returns up to limit events, ascending by id, with id > since and
// no ack recorded for slaveID. The ack filter is the source of truth for
// "already handled": a slave that restarts with a stale cursor must not be
// redelivered events it acknowledged before.
func (l *groupLog) pending(slaveID string, since int64, limit int) []*Event {
	var out []*Event
	for _, ev := range l.events {
		if ev.ID <= since {
			continue
		}
		if _, acked := ev.Acks[slaveID]; acked {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// remove drops the events whose ids are in the set, keeping order, and
// clears any idempotency entries pointing at them.
func (l *groupLog) remove(ids map[int64]bool) int {
	if len(ids) == 0 {
		return 0
	}
	kept := l.events[:0]
	removed := 0
	for _, ev := range l.events {
		if ids[ev.ID] {
			removed++
			if ev.Type != EventModify {
				key := dedupeKey(ev.Type, ev.PositionKey)
				if l.dedupe[key] == ev.ID {
					delete(l.dedupe, key)
				}
			}
			continue
		}
		kept = append(kept, ev)
	}
	l.events = kept
	return removed
}

// record builds the durable snapshot of the log plus the tracker states.
func (l *groupLog) record(group string, tickets map[string]TicketState) *GroupRecord {
	events := make([]*Event, len(l.events))
	copy(events, l.events)
	dedupe := make(map[string]int64, len(l.dedupe))
	for k, v := range l.dedupe {
		dedupe[k] = v
	}
	return &GroupRecord{
		Group:   group,
		NextID:  l.nextID,
		Equity:  l.equity,
		Events:  events,
		Tickets: tickets,
		Dedupe:  dedupe,
	}
}
