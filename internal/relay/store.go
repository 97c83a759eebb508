package relay

import "context"

// GroupRecord is the durable unit for one group's log: the events, the id
// counter, the equity fallback, the tracker states and the idempotency
// index. Backends persist it whole, atomically, after every mutation.
type GroupRecord struct {
	Group   string                 `json:"group"`
	NextID  int64                  `json:"next_id"`
	Equity  float64                `json:"equity"`
	Events  []*Event               `json:"events"`
	Tickets map[string]TicketState `json:"tickets"`
	Dedupe  map[string]int64       `json:"dedupe"`
}

// RegistryRecord is the durable unit for the slave registry across all
// groups, keyed group → slaveId.
type RegistryRecord struct {
	Slaves map[string]map[string]SlaveState `json:"slaves"`
}

// PersistedState is everything a backend can hand back at boot.
type PersistedState struct {
	Groups   map[string]*GroupRecord
	Registry *RegistryRecord
}

// Store is the persistence boundary. The core owns the authoritative
// in-memory state; a Store makes mutations durable before the response is
// returned and reloads them at boot. The memory backend turns every save
// into a no-op.
//
// There is no cross-record transaction: group logs and the registry are
// flushed independently, and a crash between the two leaves at worst a stale
// lastSeenAt or a missed equity fallback, never a corrupt event.
type Store interface {
	Load(ctx context.Context) (*PersistedState, error)
	SaveGroup(ctx context.Context, rec *GroupRecord) error
	SaveRegistry(ctx context.Context, rec *RegistryRecord) error
	Ping(ctx context.Context) error
	Close() error
}
