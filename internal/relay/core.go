package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/copygrid/trade-relay/internal/metrics"
)

// ErrValidation marks a request the caller must fix and resend. No state is
// mutated when it is returned.
var ErrValidation = errors.New("validation failed")

// Options are the retention knobs for a Core.
type Options struct {
	// MaxEventsPerGroup caps the log size; oldest events are evicted past it
	// regardless of ack completeness. Zero means the default.
	MaxEventsPerGroup int
	// MaxEventAge evicts events older than this regardless of ack
	// completeness. Zero means the default.
	MaxEventAge time.Duration
	// SlaveActiveWindow bounds how long an idle slave still counts toward GC
	// eligibility. Registry entries idle past twice the window are pruned.
	SlaveActiveWindow time.Duration
}

const (
	defaultMaxEventsPerGroup = 10000
	defaultMaxEventAge       = 72 * time.Hour
	defaultSlaveActiveWindow = 72 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.MaxEventsPerGroup <= 0 {
		o.MaxEventsPerGroup = defaultMaxEventsPerGroup
	}
	if o.MaxEventAge <= 0 {
		o.MaxEventAge = defaultMaxEventAge
	}
	if o.SlaveActiveWindow <= 0 {
		o.SlaveActiveWindow = defaultSlaveActiveWindow
	}
	return o
}

// group is one partition's mutable state. Its lock serializes every
// mutation of the log and tracker. The registry has its own lock, taken on
// its own by Poll, Ack and RegisterSlave; when both locks are held the
// nesting is always group then registry, never the reverse.
type group struct {
	mu      sync.Mutex
	name    string
	log     *groupLog
	tracker *ticketTracker
}

// Core is the replication protocol: idempotent ingestion, ack-filtered
// delivery and ack-triggered retention. One Core is constructed at process
// start and injected into every handler; it holds the authoritative state
// in memory and flushes each mutation through the Store before returning.
type Core struct {
	store    Store
	opts     Options
	now      func() time.Time
	registry *slaveRegistry

	mu     sync.RWMutex
	groups map[string]*group
}

// NewCore builds a Core and loads any previously persisted state.
func NewCore(ctx context.Context, st Store, opts Options) (*Core, error) {
	c := &Core{
		store:    st,
		opts:     opts.withDefaults(),
		now:      time.Now,
		registry: newSlaveRegistry(),
		groups:   make(map[string]*group),
	}

	state, err := st.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	if state != nil {
		for name, rec := range state.Groups {
			c.groups[name] = groupFromRecord(name, rec)
		}
		c.registry.restore(state.Registry)
	}
	return c, nil
}

func groupFromRecord(name string, rec *GroupRecord) *group {
	g := &group{name: name, log: newGroupLog(), tracker: newTicketTracker()}
	if rec == nil {
		return g
	}
	g.log.events = rec.Events
	if rec.NextID > 0 {
		g.log.nextID = rec.NextID
	}
	g.log.equity = rec.Equity
	for k, v := range rec.Dedupe {
		g.log.dedupe[k] = v
	}
	for k, v := range rec.Tickets {
		g.tracker.states[k] = v
	}
	for _, ev := range g.log.events {
		if ev.Acks == nil {
			ev.Acks = make(map[string]Ack)
		}
	}
	return g
}

// PushInput is one event description from the master.
type PushInput struct {
	Group      string
	Type       EventType
	Ticket     int64
	UID        string
	Symbol     string
	Side       string
	Lots       float64
	OpenPrice  float64
	ClosePrice float64
	StopLoss   float64
	TakeProfit float64
	Magic      int64
	Comment    string
	OpenTime   time.Time
	CloseTime  time.Time
	Equity     float64
}

func (in PushInput) validate() error {
	if in.Group == "" {
		return fmt.Errorf("%w: group required", ErrValidation)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: type must be OPEN, MODIFY or CLOSE", ErrValidation)
	}
	if in.Ticket <= 0 && in.UID == "" {
		return fmt.Errorf("%w: ticket or uid required", ErrValidation)
	}
	if in.Symbol == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	return nil
}

// PushResult reports the outcome of one push. Duplicated pushes are
// successes: the master's retry logic only needs to stop resending.
type PushResult struct {
	ID         int64
	Duplicated bool
	Reason     Reason
}

// Push validates the event, consults the ticket tracker and the idempotency
// index, and appends on acceptance. Duplicates consume no id.
func (c *Core) Push(ctx context.Context, in PushInput) (PushResult, error) {
	if err := in.validate(); err != nil {
		metrics.PushesTotal.WithLabelValues("rejected").Inc()
		return PushResult{}, err
	}

	now := c.now()
	pk := PositionKey(in.UID, in.Ticket, in.OpenTime)
	g := c.group(in.Group)
	g.mu.Lock()
	defer g.mu.Unlock()

	prev, known := g.tracker.get(pk)
	ok, reason := g.tracker.Accept(pk, in.Type, now)
	if !ok {
		// No-op duplicate. Recover the live event id so a master retrying a
		// push whose response was lost still learns the assigned id.
		metrics.PushesTotal.WithLabelValues("duplicate").Inc()
		return PushResult{ID: g.log.lookupDuplicate(in.Type, pk), Duplicated: true, Reason: reason}, nil
	}

	if id := g.log.lookupDuplicate(in.Type, pk); id != 0 {
		// A live event already exists for this exact (type, positionKey):
		// a network-retry duplicate the tracker could not see. Return the
		// existing id and leave the tracker as it was.
		g.tracker.restore(pk, prev, known)
		metrics.PushesTotal.WithLabelValues("duplicate").Inc()
		return PushResult{ID: id, Duplicated: true, Reason: ReasonResubmit}, nil
	}

	ev := &Event{
		Group:       in.Group,
		Type:        in.Type,
		PositionKey: pk,
		Ticket:      in.Ticket,
		UID:         in.UID,
		Symbol:      in.Symbol,
		Side:        in.Side,
		Lots:        in.Lots,
		OpenPrice:   in.OpenPrice,
		ClosePrice:  in.ClosePrice,
		StopLoss:    in.StopLoss,
		TakeProfit:  in.TakeProfit,
		Magic:       in.Magic,
		Comment:     in.Comment,
		OpenTime:    in.OpenTime,
		CloseTime:   in.CloseTime,
		Equity:      in.Equity,
		CreatedAt:   now,
		Acks:        make(map[string]Ack),
	}
	if in.Equity > 0 {
		g.log.equity = in.Equity
	} else {
		// Fallback so downstream equity-ratio math survives a single
		// missing field.
		ev.Equity = g.log.equity
	}

	id := g.log.append(ev)
	c.evictLocked(g, now)

	if err := c.saveGroupLocked(ctx, g); err != nil {
		// Leave no trace of the failed push; the master retries the
		// identical request.
		g.log.dropLast(ev)
		g.tracker.restore(pk, prev, known)
		return PushResult{}, err
	}

	metrics.PushesTotal.WithLabelValues("accepted").Inc()
	slog.Info("event accepted", "group", in.Group, "id", id, "type", in.Type, "symbol", in.Symbol, "position", pk)
	return PushResult{ID: id}, nil
}

// PollResult is one batch of undelivered events plus liveness metadata.
type PollResult struct {
	Events     []Event
	ServerTime time.Time
	LastEquity float64
}

// Poll registers the slave on first contact, bumps its lastSeenAt and
// returns up to limit events above the cursor that the slave has not yet
// acknowledged.
func (c *Core) Poll(ctx context.Context, groupName, slaveID string, since int64, limit int) (PollResult, error) {
	if groupName == "" || slaveID == "" {
		return PollResult{}, fmt.Errorf("%w: group and slaveId required", ErrValidation)
	}
	if since < 0 {
		return PollResult{}, fmt.Errorf("%w: since must not be negative", ErrValidation)
	}

	now := c.now()
	c.registry.prune(now, 2*c.opts.SlaveActiveWindow)
	rec := c.registry.touch(groupName, slaveID, now)
	if err := c.store.SaveRegistry(ctx, rec); err != nil {
		return PollResult{}, fmt.Errorf("persist registry: %w", err)
	}
	known, _ := c.registry.counts(groupName, now, c.opts.SlaveActiveWindow)
	metrics.SlavesKnown.WithLabelValues(groupName).Set(float64(known))

	res := PollResult{ServerTime: now}
	g := c.lookup(groupName)
	if g == nil {
		return res, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	res.LastEquity = g.log.equity
	for _, ev := range g.log.pending(slaveID, since, limit) {
		cp := *ev
		cp.Acks = nil
		res.Events = append(res.Events, cp)
	}
	metrics.EventsDelivered.Add(float64(len(res.Events)))
	return res, nil
}

// AckResult reports whether the ack landed on a live event or the event was
// already collected.
type AckResult struct {
	Gone bool
}

// Ack records a slave's outcome for an event and evaluates GC for the
// group. Acking an already-collected event is a success: the work it
// represents is finished.
func (c *Core) Ack(ctx context.Context, groupName, slaveID string, eventID int64, status AckStatus, ackErr string) (AckResult, error) {
	if groupName == "" || slaveID == "" {
		return AckResult{}, fmt.Errorf("%w: group and slaveId required", ErrValidation)
	}
	if eventID <= 0 {
		return AckResult{}, fmt.Errorf("%w: eventId required", ErrValidation)
	}
	if !status.Valid() {
		return AckResult{}, fmt.Errorf("%w: status must be DONE, ERR or SKIP", ErrValidation)
	}

	now := c.now()
	c.registry.prune(now, 2*c.opts.SlaveActiveWindow)
	rec := c.registry.ackSeen(groupName, slaveID, eventID, now)
	if err := c.store.SaveRegistry(ctx, rec); err != nil {
		return AckResult{}, fmt.Errorf("persist registry: %w", err)
	}

	g := c.lookup(groupName)
	if g == nil {
		metrics.AcksTotal.WithLabelValues("gone").Inc()
		return AckResult{Gone: true}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	ev := g.log.get(eventID)
	if ev == nil {
		metrics.AcksTotal.WithLabelValues("gone").Inc()
		return AckResult{Gone: true}, nil
	}

	prev, had := ev.Acks[slaveID]
	ev.Acks[slaveID] = Ack{Status: status, Error: ackErr, At: now}
	if err := c.saveGroupLocked(ctx, g); err != nil {
		if had {
			ev.Acks[slaveID] = prev
		} else {
			delete(ev.Acks, slaveID)
		}
		return AckResult{}, err
	}

	// Collection runs only after the ack is durable. If the trimming flush
	// fails, a reload resurrects the collected events with their acks
	// intact, so they are redelivered only to slaves that never acked.
	if c.collectLocked(g, now) > 0 {
		if err := c.saveGroupLocked(ctx, g); err != nil {
			return AckResult{}, err
		}
	}
	metrics.AcksTotal.WithLabelValues(string(status)).Inc()
	return AckResult{}, nil
}

// RegisterSlave pre-registers a slaveId so GC counts it before its first
// poll. Idempotent.
func (c *Core) RegisterSlave(ctx context.Context, groupName, slaveID string) error {
	if groupName == "" || slaveID == "" {
		return fmt.Errorf("%w: group and slaveId required", ErrValidation)
	}
	now := c.now()
	rec := c.registry.touch(groupName, slaveID, now)
	if err := c.store.SaveRegistry(ctx, rec); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	known, _ := c.registry.counts(groupName, now, c.opts.SlaveActiveWindow)
	metrics.SlavesKnown.WithLabelValues(groupName).Set(float64(known))
	return nil
}

// SlaveState returns a copy of the slave's registry entry.
func (c *Core) SlaveState(groupName, slaveID string) (SlaveState, bool) {
	return c.registry.get(groupName, slaveID)
}

// GroupHealth is one group's diagnostics snapshot.
type GroupHealth struct {
	Group        string    `json:"group"`
	Events       int       `json:"events"`
	NextID       int64     `json:"next_id"`
	KnownSlaves  int       `json:"known_slaves"`
	ActiveSlaves int       `json:"active_slaves"`
	LastEquity   float64   `json:"last_equity,omitempty"`
	OldestEvent  time.Time `json:"oldest_event,omitempty"`
}

// Health reports per-group diagnostics, sorted by group name.
func (c *Core) Health() []GroupHealth {
	now := c.now()
	c.mu.RLock()
	groups := make([]*group, 0, len(c.groups))
	for _, g := range c.groups {
		groups = append(groups, g)
	}
	c.mu.RUnlock()

	out := make([]GroupHealth, 0, len(groups))
	for _, g := range groups {
		g.mu.Lock()
		h := GroupHealth{
			Group:      g.name,
			Events:     len(g.log.events),
			NextID:     g.log.nextID,
			LastEquity: g.log.equity,
		}
		if len(g.log.events) > 0 {
			h.OldestEvent = g.log.events[0].CreatedAt
		}
		g.mu.Unlock()
		h.KnownSlaves, h.ActiveSlaves = c.registry.counts(g.name, now, c.opts.SlaveActiveWindow)
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// saveGroupLocked flushes the group's durable record. Caller holds g.mu.
func (c *Core) saveGroupLocked(ctx context.Context, g *group) error {
	rec := g.log.record(g.name, g.tracker.snapshot())
	if err := c.store.SaveGroup(ctx, rec); err != nil {
		return fmt.Errorf("persist group %s: %w", g.name, err)
	}
	metrics.EventsLive.WithLabelValues(g.name).Set(float64(len(g.log.events)))
	return nil
}

// group returns the partition, creating it on first use.
func (c *Core) group(name string) *group {
	c.mu.RLock()
	g := c.groups[name]
	c.mu.RUnlock()
	if g != nil {
		return g
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g := c.groups[name]; g != nil {
		return g
	}
	g = &group{name: name, log: newGroupLog(), tracker: newTicketTracker()}
	c.groups[name] = g
	return g
}

// lookup returns the partition or nil without creating it.
func (c *Core) lookup(name string) *group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groups[name]
}
