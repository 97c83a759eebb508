package relay

import (
	"sync"
	"time"
)

// slaveRegistry tracks every known consumer across all groups. It has its
// own lock because it is persisted as a single record independent of any
// group log. Callers may take this lock while holding a group lock, never
// the other way around.
type slaveRegistry struct {
	mu     sync.Mutex
	slaves map[string]map[string]*SlaveState // group → slaveId
}

func newSlaveRegistry() *slaveRegistry {
	return &slaveRegistry{slaves: make(map[string]map[string]*SlaveState)}
}

// touch registers the slave on first contact and bumps lastSeenAt, returning
// the durable snapshot to flush.
func (r *slaveRegistry) touch(group, slaveID string, now time.Time) *RegistryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(group, slaveID, now)
	return r.recordLocked()
}

// ackSeen bumps lastSeenAt and raises lastAckId, which never decreases.
func (r *slaveRegistry) ackSeen(group, slaveID string, eventID int64, now time.Time) *RegistryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.upsertLocked(group, slaveID, now)
	if eventID > st.LastAckID {
		st.LastAckID = eventID
	}
	return r.recordLocked()
}

func (r *slaveRegistry) upsertLocked(group, slaveID string, now time.Time) *SlaveState {
	byID := r.slaves[group]
	if byID == nil {
		byID = make(map[string]*SlaveState)
		r.slaves[group] = byID
	}
	st := byID[slaveID]
	if st == nil {
		st = &SlaveState{}
		byID[slaveID] = st
	}
	if now.After(st.LastSeenAt) {
		st.LastSeenAt = now
	}
	return st
}

// active returns the slaveIds in the group seen within the window. These are
// the "currently known" slaves whose acks gate GC eligibility.
func (r *slaveRegistry) active(group string, now time.Time, window time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, st := range r.slaves[group] {
		if now.Sub(st.LastSeenAt) <= window {
			out = append(out, id)
		}
	}
	return out
}

// everRegistered reports whether the group has ever seen a slave. Groups
// with no consumers retain their events rather than silently dropping them.
func (r *slaveRegistry) everRegistered(group string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slaves[group]) > 0
}

// prune drops registry entries idle past the cutoff window and returns the
// snapshot to flush when anything changed.
func (r *slaveRegistry) prune(now time.Time, cutoff time.Duration) (*RegistryRecord, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for group, byID := range r.slaves {
		for id, st := range byID {
			if now.Sub(st.LastSeenAt) > cutoff {
				delete(byID, id)
				pruned++
			}
		}
		if len(byID) == 0 {
			delete(r.slaves, group)
		}
	}
	if pruned == 0 {
		return nil, 0
	}
	return r.recordLocked(), pruned
}

// get returns a copy of the slave's state.
func (r *slaveRegistry) get(group, slaveID string) (SlaveState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.slaves[group][slaveID]
	if !ok {
		return SlaveState{}, false
	}
	return *st, true
}

func (r *slaveRegistry) counts(group string, now time.Time, window time.Duration) (known, activeN int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.slaves[group] {
		known++
		if now.Sub(st.LastSeenAt) <= window {
			activeN++
		}
	}
	return known, activeN
}

func (r *slaveRegistry) restore(rec *RegistryRecord) {
	if rec == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for group, byID := range rec.Slaves {
		m := make(map[string]*SlaveState, len(byID))
		for id, st := range byID {
			s := st
			m[id] = &s
		}
		r.slaves[group] = m
	}
}

func (r *slaveRegistry) recordLocked() *RegistryRecord {
	out := make(map[string]map[string]SlaveState, len(r.slaves))
	for group, byID := range r.slaves {
		m := make(map[string]SlaveState, len(byID))
		for id, st := range byID {
			m[id] = *st
		}
		out[group] = m
	}
	return &RegistryRecord{Slaves: out}
}
