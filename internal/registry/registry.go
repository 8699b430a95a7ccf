package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hongjun500/neurostream/internal/observe"
	"github.com/hongjun500/neurostream/pkg/logger"
)

// Client is the registry's view of one remote application.
type Client struct {
	Name      string    `json:"name"`
	UUID      string    `json:"uuid"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Alive     bool      `json:"alive"`
}

type ChangeKind int

const (
	Added ChangeKind = iota
	Revived
	Died
	Evicted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Revived:
		return "revived"
	case Died:
		return "died"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// MarshalText lets changes serialize with readable kinds.
func (k ChangeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Change is a registry-changed notification.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Client Client     `json:"client"`
	At     time.Time  `json:"at"`
}

type ChangeHandler func(Change)

// EventHandler receives event requests forwarded by the poller.
type EventHandler func(Record)

type handlerEntry struct {
	id uint64
	fn ChangeHandler
}

// Options tunes liveness. Zero values take the defaults.
type Options struct {
	AliveTimeout  time.Duration // default 5s
	RemoveTimeout time.Duration // default 30s, only with EvictDead
	EvictDead     bool
	Now           func() time.Time
}

// Registry tracks remote applications by uuid. Records arrive through the
// mailbox and are applied on Tick; only the goroutine calling Tick mutates
// the client set.
type Registry struct {
	mailbox *Mailbox[Record]
	opts    Options

	mu      sync.RWMutex
	clients map[string]*Client

	handlersMu sync.RWMutex
	handlers   []handlerEntry
	nextHID    uint64

	// OnEvent, when set, runs on the owner for every event request.
	OnEvent EventHandler
}

func New(mailbox *Mailbox[Record], opts Options) *Registry {
	if opts.AliveTimeout <= 0 {
		opts.AliveTimeout = 5 * time.Second
	}
	if opts.RemoveTimeout <= 0 {
		opts.RemoveTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		mailbox: mailbox,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Subscribe registers fn for change notifications and returns a function
// removing it.
func (r *Registry) Subscribe(fn ChangeHandler) (cancel func()) {
	r.handlersMu.Lock()
	r.nextHID++
	id := r.nextHID
	r.handlers = append(r.handlers, handlerEntry{id: id, fn: fn})
	r.handlersMu.Unlock()

	return func() {
		r.handlersMu.Lock()
		filtered := r.handlers[:0:0]
		for _, e := range r.handlers {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		r.handlers = filtered
		r.handlersMu.Unlock()
	}
}

// Run ticks every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(r.opts.Now())
		}
	}
}

// Tick drains the mailbox, then sweeps liveness against now. It returns
// the changes it signalled, in order.
func (r *Registry) Tick(now time.Time) []Change {
	var changes []Change
	r.mailbox.Drain(func(rec Record) {
		if c, ok := r.apply(rec, now); ok {
			changes = append(changes, c)
		}
		if rec.Event != nil && r.OnEvent != nil {
			r.OnEvent(rec)
		}
	})
	changes = append(changes, r.sweep(now)...)

	for _, c := range changes {
		observe.IncRegistryChange(c.Kind.String())
		logger.L().Sugar().Infow("registry_change", "kind", c.Kind, "uuid", c.Client.UUID, "application", c.Client.Name)
		r.emit(c)
	}
	if len(changes) > 0 {
		alive, dead := r.population()
		observe.SetClients(alive, dead)
	}
	return changes
}

func (r *Registry) apply(rec Record, now time.Time) (Change, bool) {
	seen := rec.Received
	if seen.IsZero() {
		seen = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[rec.UUID]
	if !ok {
		c = &Client{Name: rec.Application, UUID: rec.UUID, FirstSeen: seen, LastSeen: seen, Alive: true}
		r.clients[rec.UUID] = c
		return Change{Kind: Added, Client: *c, At: now}, true
	}
	if seen.After(c.LastSeen) {
		c.LastSeen = seen
	}
	if rec.Application != "" {
		c.Name = rec.Application
	}
	if !c.Alive {
		c.Alive = true
		return Change{Kind: Revived, Client: *c, At: now}, true
	}
	return Change{}, false
}

func (r *Registry) sweep(now time.Time) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes []Change
	for id, c := range r.clients {
		silent := now.Sub(c.LastSeen)
		switch {
		case c.Alive && silent > r.opts.AliveTimeout:
			c.Alive = false
			changes = append(changes, Change{Kind: Died, Client: *c, At: now})
		case !c.Alive && r.opts.EvictDead && silent > r.opts.RemoveTimeout:
			delete(r.clients, id)
			changes = append(changes, Change{Kind: Evicted, Client: *c, At: now})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Client.UUID < changes[j].Client.UUID })
	return changes
}

func (r *Registry) emit(c Change) {
	r.handlersMu.RLock()
	entries := append([]handlerEntry(nil), r.handlers...)
	r.handlersMu.RUnlock()
	for _, e := range entries {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.L().Sugar().Errorw("registry_handler_panic", "panic", p)
				}
			}()
			e.fn(c)
		}()
	}
}

func (r *Registry) population() (alive, dead int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if c.Alive {
			alive++
		} else {
			dead++
		}
	}
	return alive, dead
}

// Clients returns a snapshot sorted by uuid.
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out
}

func (r *Registry) Get(uuid string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[uuid]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
