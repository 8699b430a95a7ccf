package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongjun500/neurostream/internal/protocol"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(opts Options) (*Registry, *Mailbox[Record]) {
	box := NewMailbox[Record](16)
	return New(box, opts), box
}

func beat(box *Mailbox[Record], id string, at time.Time) {
	box.Push(Record{Application: "app-" + id, UUID: id, Received: at})
}

func kinds(changes []Change) []ChangeKind {
	out := make([]ChangeKind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind
	}
	return out
}

func TestNewClientIsAdded(t *testing.T) {
	r, box := newTestRegistry(Options{})
	beat(box, "A", t0)

	changes := r.Tick(t0)
	require.Equal(t, []ChangeKind{Added}, kinds(changes))
	c, ok := r.Get("A")
	require.True(t, ok)
	assert.True(t, c.Alive)
	assert.Equal(t, "app-A", c.Name)
	assert.Equal(t, t0, c.LastSeen)
}

func TestRepeatedHeartbeatsKeepOneRecord(t *testing.T) {
	r, box := newTestRegistry(Options{})
	beat(box, "A", t0)
	r.Tick(t0)
	beat(box, "A", t0.Add(time.Second))
	changes := r.Tick(t0.Add(time.Second))

	assert.Empty(t, changes, "an alive client refreshing is not a change")
	assert.Equal(t, 1, r.Len())
	c, _ := r.Get("A")
	assert.Equal(t, t0.Add(time.Second), c.LastSeen)
}

func TestDeathIsSignalledOnce(t *testing.T) {
	r, box := newTestRegistry(Options{AliveTimeout: 5 * time.Second})
	beat(box, "A", t0)
	r.Tick(t0)

	assert.Empty(t, r.Tick(t0.Add(5*time.Second)), "timeout is strict")
	changes := r.Tick(t0.Add(5*time.Second + time.Millisecond))
	require.Equal(t, []ChangeKind{Died}, kinds(changes))
	assert.False(t, changes[0].Client.Alive)

	assert.Empty(t, r.Tick(t0.Add(6*time.Second)))
	assert.Empty(t, r.Tick(t0.Add(time.Hour)), "without eviction the dead record stays")
	assert.Equal(t, 1, r.Len())
}

func TestRevival(t *testing.T) {
	r, box := newTestRegistry(Options{AliveTimeout: time.Second})
	beat(box, "A", t0)
	r.Tick(t0)
	r.Tick(t0.Add(2 * time.Second))

	beat(box, "A", t0.Add(3*time.Second))
	changes := r.Tick(t0.Add(3 * time.Second))
	require.Equal(t, []ChangeKind{Revived}, kinds(changes))
	c, _ := r.Get("A")
	assert.True(t, c.Alive)
	assert.Equal(t, t0, c.FirstSeen)
}

func TestEviction(t *testing.T) {
	r, box := newTestRegistry(Options{AliveTimeout: time.Second, RemoveTimeout: 10 * time.Second, EvictDead: true})
	beat(box, "A", t0)
	beat(box, "B", t0.Add(8*time.Second))
	r.Tick(t0)

	assert.Equal(t, []ChangeKind{Died}, kinds(r.Tick(t0.Add(2*time.Second))))
	assert.Empty(t, r.Tick(t0.Add(9*time.Second)))
	changes := r.Tick(t0.Add(11 * time.Second))
	assert.Equal(t, []ChangeKind{Evicted, Died}, kinds(changes))
	assert.Equal(t, "A", changes[0].Client.UUID)
	assert.Equal(t, "B", changes[1].Client.UUID)

	_, ok := r.Get("A")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Len())
}

func TestSubscribe(t *testing.T) {
	r, box := newTestRegistry(Options{})
	var got []Change
	cancel := r.Subscribe(func(c Change) { got = append(got, c) })
	r.Subscribe(func(Change) { panic("handler bug") })

	beat(box, "A", t0)
	r.Tick(t0)
	require.Len(t, got, 1)
	assert.Equal(t, Added, got[0].Kind)

	cancel()
	beat(box, "B", t0)
	r.Tick(t0)
	assert.Len(t, got, 1)
}

func TestEventRequestsReachOwner(t *testing.T) {
	r, box := newTestRegistry(Options{})
	var events []Record
	r.OnEvent = func(rec Record) { events = append(events, rec) }

	box.Push(Record{UUID: "A", Received: t0, Event: &protocol.EventDescriptor{EventChannel: 2, SampleNum: 99, Type: protocol.EventTTL}})
	r.Tick(t0)

	require.Len(t, events, 1)
	assert.Equal(t, int64(99), events[0].Event.SampleNum)
	assert.Equal(t, 1, r.Len(), "event requests also count as liveness")
}

func TestClientsSnapshotSorted(t *testing.T) {
	r, box := newTestRegistry(Options{})
	for _, id := range []string{"c", "a", "b"} {
		beat(box, id, t0)
	}
	r.Tick(t0)
	clients := r.Clients()
	require.Len(t, clients, 3)
	assert.Equal(t, "a", clients[0].UUID)
	assert.Equal(t, "c", clients[2].UUID)

	clients[0].Name = "mutated"
	c, _ := r.Get("a")
	assert.Equal(t, "app-a", c.Name)
}

func TestRunTicks(t *testing.T) {
	box := NewMailbox[Record](4)
	r := New(box, Options{})
	added := make(chan Change, 1)
	r.Subscribe(func(c Change) { added <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx, 10*time.Millisecond)

	box.Push(Record{UUID: "A", Received: time.Now()})
	select {
	case c := <-added:
		assert.Equal(t, "A", c.Client.UUID)
	case <-time.After(2 * time.Second):
		t.Fatal("registry never ticked")
	}
}

func TestChangeKindText(t *testing.T) {
	b, err := Evicted.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "evicted", string(b))
}
