package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore keeps records in memory and can be told to fail, standing in
// for a durable backend in core tests.
type stubStore struct {
	groups       map[string]*GroupRecord
	registry     *RegistryRecord
	failGroup    bool
	failRegistry bool
	// failGroupAfter fails the nth SaveGroup call from now (1 = the next).
	failGroupAfter int
	groupSaves     int
}

func newStubStore() *stubStore {
	return &stubStore{groups: make(map[string]*GroupRecord)}
}

func (s *stubStore) Load(ctx context.Context) (*PersistedState, error) {
	return &PersistedState{Groups: s.groups, Registry: s.registry}, nil
}

func (s *stubStore) SaveGroup(ctx context.Context, rec *GroupRecord) error {
	if s.failGroup {
		return errors.New("disk full")
	}
	if s.failGroupAfter > 0 {
		s.failGroupAfter--
		if s.failGroupAfter == 0 {
			return errors.New("disk full")
		}
	}
	s.groupSaves++
	s.groups[rec.Group] = rec
	return nil
}

func (s *stubStore) SaveRegistry(ctx context.Context, rec *RegistryRecord) error {
	if s.failRegistry {
		return errors.New("disk full")
	}
	s.registry = rec
	return nil
}

func (s *stubStore) Ping(ctx context.Context) error { return nil }
func (s *stubStore) Close() error                   { return nil }

func newTestCore(t *testing.T, opts Options) (*Core, *stubStore) {
	t.Helper()
	st := newStubStore()
	c, err := NewCore(context.Background(), st, opts)
	require.NoError(t, err)
	return c, st
}

func openInput(group string, ticket int64) PushInput {
	return PushInput{
		Group:    group,
		Type:     EventOpen,
		Ticket:   ticket,
		Symbol:   "EURUSD",
		Side:     "BUY",
		Lots:     0.1,
		OpenTime: time.Unix(1700000000, 0),
	}
}

func closeInput(group string, ticket int64) PushInput {
	in := openInput(group, ticket)
	in.Type = EventClose
	return in
}

func TestPushAssignsIncreasingIDs(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	res1, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	res2, err := c.Push(ctx, openInput("G1", 101))
	require.NoError(t, err)

	assert.Equal(t, int64(1), res1.ID)
	assert.Equal(t, int64(2), res2.ID)
	assert.False(t, res1.Duplicated)
}

func TestPushIdempotent(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	first, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)

	second, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	assert.True(t, second.Duplicated)
	assert.Equal(t, first.ID, second.ID, "retry must return the originally assigned id")
	assert.Equal(t, ReasonOpenAlready, second.Reason)

	// No id was consumed by the duplicate.
	res, err := c.Push(ctx, openInput("G1", 101))
	require.NoError(t, err)
	assert.Equal(t, first.ID+1, res.ID)
}

func TestPushGroupsAreIsolated(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	res1, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	res2, err := c.Push(ctx, openInput("G2", 100))
	require.NoError(t, err)

	assert.Equal(t, int64(1), res1.ID)
	assert.Equal(t, int64(1), res2.ID, "same ticket in another group is a distinct position")
	assert.False(t, res2.Duplicated)
}

func TestPushValidation(t *testing.T) {
	c, st := newTestCore(t, Options{})
	ctx := context.Background()

	cases := []PushInput{
		{Type: EventOpen, Ticket: 1, Symbol: "EURUSD"},
		{Group: "G1", Ticket: 1, Symbol: "EURUSD"},
		{Group: "G1", Type: "BOGUS", Ticket: 1, Symbol: "EURUSD"},
		{Group: "G1", Type: EventOpen, Symbol: "EURUSD"},
		{Group: "G1", Type: EventOpen, Ticket: 1},
	}
	for _, in := range cases {
		_, err := c.Push(ctx, in)
		assert.ErrorIs(t, err, ErrValidation)
	}
	assert.Zero(t, st.groupSaves, "validation failures must not persist anything")
}

func TestPushCloseWithoutOpen(t *testing.T) {
	c, st := newTestCore(t, Options{})
	ctx := context.Background()

	res, err := c.Push(ctx, closeInput("G1", 100))
	require.NoError(t, err)
	assert.True(t, res.Duplicated)
	assert.Equal(t, ReasonCloseWithoutOpen, res.Reason)
	assert.Zero(t, res.ID)
	assert.Zero(t, st.groupSaves, "rejected push must not create an event")
}

func TestPushUIDPreferredOverTicket(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	in := openInput("G1", 100)
	in.UID = "pos-abc"
	_, err := c.Push(ctx, in)
	require.NoError(t, err)

	// Same uid, different ticket: still the same position.
	in2 := openInput("G1", 999)
	in2.UID = "pos-abc"
	res, err := c.Push(ctx, in2)
	require.NoError(t, err)
	assert.True(t, res.Duplicated)
	assert.Equal(t, ReasonOpenAlready, res.Reason)
}

func TestPushRollbackOnPersistFailure(t *testing.T) {
	c, st := newTestCore(t, Options{})
	ctx := context.Background()

	st.failGroup = true
	_, err := c.Push(ctx, openInput("G1", 100))
	require.Error(t, err)

	// The failed push left no trace: the retry is accepted, not treated as
	// a duplicate, and gets the first id.
	st.failGroup = false
	res, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	assert.False(t, res.Duplicated)
	assert.Equal(t, int64(1), res.ID)
}

func TestEquityFallback(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	in := openInput("G1", 100)
	in.Equity = 5000
	_, err := c.Push(ctx, in)
	require.NoError(t, err)

	// Next event omits equity; the last known value fills in.
	in2 := openInput("G1", 101)
	_, err = c.Push(ctx, in2)
	require.NoError(t, err)

	res, err := c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	assert.Equal(t, float64(5000), res.Events[1].Equity)
	assert.Equal(t, float64(5000), res.LastEquity)
}

func TestPollCursorAndAckFiltering(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	for ticket := int64(100); ticket < 105; ticket++ {
		_, err := c.Push(ctx, openInput("G1", ticket))
		require.NoError(t, err)
	}

	res, err := c.Poll(ctx, "G1", "slave-a", 2, 10)
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	for _, ev := range res.Events {
		assert.Greater(t, ev.ID, int64(2), "cursor filter")
	}

	// After acking id 3, a stale-cursor poll must not redeliver it.
	_, err = c.Ack(ctx, "G1", "slave-a", 3, AckDone, "")
	require.NoError(t, err)

	res, err = c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	for _, ev := range res.Events {
		assert.NotEqual(t, int64(3), ev.ID, "acked event redelivered on stale cursor")
	}
}

func TestPollLimit(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	for ticket := int64(100); ticket < 110; ticket++ {
		_, err := c.Push(ctx, openInput("G1", ticket))
		require.NoError(t, err)
	}

	res, err := c.Poll(ctx, "G1", "slave-a", 0, 4)
	require.NoError(t, err)
	assert.Len(t, res.Events, 4)
	assert.Equal(t, int64(1), res.Events[0].ID, "ascending id order")
}

func TestPollRegistersSlave(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	_, err := c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)

	st, ok := c.SlaveState("G1", "slave-a")
	require.True(t, ok)
	assert.False(t, st.LastSeenAt.IsZero())
}

func TestAckMonotonicLastAckID(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	for ticket := int64(100); ticket < 106; ticket++ {
		_, err := c.Push(ctx, openInput("G1", ticket))
		require.NoError(t, err)
	}

	_, err := c.Ack(ctx, "G1", "slave-a", 5, AckDone, "")
	require.NoError(t, err)
	st, _ := c.SlaveState("G1", "slave-a")
	assert.Equal(t, int64(5), st.LastAckID)

	// Acking a smaller id never decreases the high-water mark.
	_, err = c.Ack(ctx, "G1", "slave-a", 3, AckDone, "")
	require.NoError(t, err)
	st, _ = c.SlaveState("G1", "slave-a")
	assert.Equal(t, int64(5), st.LastAckID)
}

func TestAckGoneEvent(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	_, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)

	res, err := c.Ack(ctx, "G1", "slave-a", 999, AckDone, "")
	require.NoError(t, err)
	assert.True(t, res.Gone)

	// Acks against an entirely unknown group are also just "gone".
	res, err = c.Ack(ctx, "NOPE", "slave-a", 1, AckDone, "")
	require.NoError(t, err)
	assert.True(t, res.Gone)
}

func TestAckValidation(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	_, err := c.Ack(ctx, "G1", "slave-a", 1, "MAYBE", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.Ack(ctx, "G1", "", 1, AckDone, "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = c.Ack(ctx, "G1", "slave-a", 0, AckDone, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAckRollbackOnPersistFailure(t *testing.T) {
	c, st := newTestCore(t, Options{})
	ctx := context.Background()

	_, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	_, err = c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)

	st.failGroup = true
	_, err = c.Ack(ctx, "G1", "slave-a", 1, AckDone, "")
	require.Error(t, err)

	// The failed ack left no trace: the event is still pending for the
	// slave and the retry lands normally.
	st.failGroup = false
	poll, err := c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	require.Len(t, poll.Events, 1)

	_, err = c.Ack(ctx, "G1", "slave-a", 1, AckDone, "")
	require.NoError(t, err)
	poll, err = c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, poll.Events)
}

func TestAckCollectionSurvivesTrimFlushFailure(t *testing.T) {
	c, st := newTestCore(t, Options{})
	ctx := context.Background()

	_, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	_, err = c.Push(ctx, closeInput("G1", 100))
	require.NoError(t, err)
	_, err = c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	_, err = c.Ack(ctx, "G1", "slave-a", 1, AckDone, "")
	require.NoError(t, err)

	// The ack flush succeeds; the trimming flush after collection fails.
	st.failGroupAfter = 2
	_, err = c.Ack(ctx, "G1", "slave-a", 2, AckDone, "")
	require.Error(t, err)
	assert.Zero(t, c.Health()[0].Events)

	// The durable record kept the collected events with their acks: after a
	// reload they are redelivered only to slaves that never acked.
	c2, err := NewCore(ctx, st, Options{})
	require.NoError(t, err)
	poll, err := c2.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, poll.Events)
	poll, err = c2.Poll(ctx, "G1", "slave-b", 0, 10)
	require.NoError(t, err)
	assert.Len(t, poll.Events, 2, "never-acked slave must see resurrected events")
}

// The end-to-end replication scenario: one master, two slaves, full
// delivery and ack-triggered collection.
func TestReplicationScenario(t *testing.T) {
	c, _ := newTestCore(t, Options{})
	ctx := context.Background()

	res, err := c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	require.Equal(t, int64(1), res.ID)

	res, err = c.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	assert.True(t, res.Duplicated)
	assert.Equal(t, int64(1), res.ID)

	// Slave A receives and acks.
	pollA, err := c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	require.Len(t, pollA.Events, 1)
	assert.Equal(t, int64(1), pollA.Events[0].ID)

	_, err = c.Ack(ctx, "G1", "slave-a", 1, AckDone, "")
	require.NoError(t, err)

	// Slave B has not acked: still receives the event, which therefore must
	// not have been collected yet.
	pollB, err := c.Poll(ctx, "G1", "slave-b", 0, 10)
	require.NoError(t, err)
	require.Len(t, pollB.Events, 1, "event collected before every known slave acked")

	// B acks too. The OPEN is filtered for both slaves but stays in the log
	// while the position is live, so a third slave appearing later would
	// still learn of it.
	_, err = c.Ack(ctx, "G1", "slave-b", 1, AckDone, "")
	require.NoError(t, err)

	pollA, err = c.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pollA.Events)
	pollB, err = c.Poll(ctx, "G1", "slave-b", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pollB.Events)
	assert.Equal(t, 1, c.Health()[0].Events, "open position must stay visible for future slaves")

	// The position closes; once both slaves ack the CLOSE the whole
	// lifecycle is collected.
	res, err = c.Push(ctx, closeInput("G1", 100))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.ID)
	for _, slave := range []string{"slave-a", "slave-b"} {
		poll, err := c.Poll(ctx, "G1", slave, 0, 10)
		require.NoError(t, err)
		require.Len(t, poll.Events, 1)
		_, err = c.Ack(ctx, "G1", slave, 2, AckDone, "")
		require.NoError(t, err)
	}

	health := c.Health()
	require.Len(t, health, 1)
	assert.Zero(t, health[0].Events)
	assert.Equal(t, 2, health[0].KnownSlaves)
}

func TestRestartRestoresState(t *testing.T) {
	st := newStubStore()
	ctx := context.Background()

	c1, err := NewCore(ctx, st, Options{})
	require.NoError(t, err)
	_, err = c1.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	_, err = c1.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)

	// A new core over the same store sees the same world.
	c2, err := NewCore(ctx, st, Options{})
	require.NoError(t, err)

	res, err := c2.Push(ctx, openInput("G1", 100))
	require.NoError(t, err)
	assert.True(t, res.Duplicated, "tracker state must survive restart")
	assert.Equal(t, int64(1), res.ID)

	poll, err := c2.Poll(ctx, "G1", "slave-a", 0, 10)
	require.NoError(t, err)
	require.Len(t, poll.Events, 1)

	next, err := c2.Push(ctx, openInput("G1", 101))
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID, "id counter must survive restart")
}
