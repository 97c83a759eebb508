package relay

import (
	"log/slog"
	"time"

	"github.com/copygrid/trade-relay/internal/metrics"
)

// collectLocked runs ack-complete removal for the group. Caller holds g.mu.
//
// Only a CLOSE with a terminal ack from every active slave is removed here
// (DONE, SKIP and ERR are all terminal; errors are surfaced via health, not
// retried by the server), and it sweeps the earlier OPEN/MODIFY events of
// its lifecycle with it. Acked events of a still-open position stay: a
// slave that registers later must learn of the live position, and the ack
// filter already keeps them from being redelivered. Live-position events
// fall only to the count and age caps. Groups that have never seen a slave
// retain everything, and so do groups whose every known slave has gone
// inactive: dropping a slave from the active set must never cause premature
// GC for slaves that are merely slow but still known.
func (c *Core) collectLocked(g *group, now time.Time) int {
	if !c.registry.everRegistered(g.name) {
		return 0
	}
	active := c.registry.active(g.name, now, c.opts.SlaveActiveWindow)
	if len(active) == 0 {
		return 0
	}

	closed := make(map[int64]bool)
	for _, ev := range g.log.events {
		if ev.Type == EventClose && ackComplete(ev, active) {
			closed[ev.ID] = true
		}
	}
	if len(closed) == 0 {
		return 0
	}

	cascade := make(map[int64]bool)
	for _, ev := range g.log.events {
		if !closed[ev.ID] {
			continue
		}
		for _, prior := range g.log.events {
			if prior.ID < ev.ID && prior.PositionKey == ev.PositionKey && !closed[prior.ID] {
				cascade[prior.ID] = true
			}
		}
		if st, ok := g.tracker.get(ev.PositionKey); ok && !st.IsOpen {
			g.tracker.retire(ev.PositionKey)
		}
	}

	all := make(map[int64]bool, len(closed)+len(cascade))
	for id := range closed {
		all[id] = true
	}
	for id := range cascade {
		all[id] = true
	}
	removed := g.log.remove(all)
	if removed > 0 {
		metrics.EventsCollected.WithLabelValues("ack_complete").Add(float64(len(closed)))
		metrics.EventsCollected.WithLabelValues("cascade").Add(float64(len(cascade)))
		slog.Debug("ack-complete collection", "group", g.name, "removed", removed, "active_slaves", len(active))
	}
	return removed
}

func ackComplete(ev *Event, active []string) bool {
	for _, slaveID := range active {
		if _, ok := ev.Acks[slaveID]; !ok {
			return false
		}
	}
	return true
}

// evictLocked applies the count and age caps, oldest first, regardless of
// ack completeness. A safety valve against slaves that never poll. Caller
// holds g.mu.
func (c *Core) evictLocked(g *group, now time.Time) {
	var byAge, byCount map[int64]bool

	if c.opts.MaxEventAge > 0 {
		for _, ev := range g.log.events {
			if now.Sub(ev.CreatedAt) > c.opts.MaxEventAge {
				if byAge == nil {
					byAge = make(map[int64]bool)
				}
				byAge[ev.ID] = true
			}
		}
	}

	if over := len(g.log.events) - len(byAge) - c.opts.MaxEventsPerGroup; over > 0 {
		byCount = make(map[int64]bool, over)
		for _, ev := range g.log.events {
			if over == 0 {
				break
			}
			if byAge[ev.ID] {
				continue
			}
			byCount[ev.ID] = true
			over--
		}
	}
	if len(byAge) == 0 && len(byCount) == 0 {
		return
	}

	all := make(map[int64]bool, len(byAge)+len(byCount))
	for id := range byAge {
		all[id] = true
	}
	for id := range byCount {
		all[id] = true
	}

	// Evicting a CLOSE retires its tracker entry; the lifecycle is over and
	// a future OPEN on the same positionKey must start clean.
	for _, ev := range g.log.events {
		if !all[ev.ID] || ev.Type != EventClose {
			continue
		}
		if st, ok := g.tracker.get(ev.PositionKey); ok && !st.IsOpen {
			g.tracker.retire(ev.PositionKey)
		}
	}

	removed := g.log.remove(all)
	if removed > 0 {
		metrics.EventsCollected.WithLabelValues("age_cap").Add(float64(len(byAge)))
		metrics.EventsCollected.WithLabelValues("count_cap").Add(float64(len(byCount)))
		slog.Warn("retention eviction", "group", g.name, "removed", removed, "by_age", len(byAge), "by_count", len(byCount))
	}
}
