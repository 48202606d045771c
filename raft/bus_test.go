package raft

import (
	"sync"
	"time"

	"github.com/cohodb/raftkv/wire"
)

// bus is an in-memory Transport: a shared, lock-protected message board
// keyed by destination id, standing in for the UDP bridge of spec.md §6
// so tests can run an entire simulated cluster in one process without a
// real socket. Messages addressed to wire.BroadcastID
// are fanned out to every registered inbox except the sender's own,
// mirroring the shared-port bridge's "dst = FFFF means broadcast"
// behavior (spec.md §4.1).
type bus struct {
	mu     sync.Mutex
	inbox  map[string][]wire.Envelope
	online map[string]bool
}

func newBus(ids ...string) *bus {
	b := &bus{inbox: make(map[string][]wire.Envelope), online: make(map[string]bool)}
	for _, id := range ids {
		b.online[id] = true
	}
	return b
}

// endpoint returns a Transport bound to id on this bus.
func (b *bus) endpoint(id string) *busEndpoint {
	return &busEndpoint{bus: b, self: id}
}

// partition sets whether id is reachable. While it is offline, messages
// sent to it are dropped and it can send nothing, simulating a network
// split without tearing the replica down; online=true heals it.
func (b *bus) partition(id string, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.online[id] = online
}

func (b *bus) deliver(env wire.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.online[env.Src] {
		return
	}
	if env.Dst == wire.BroadcastID {
		for id, up := range b.online {
			if id != env.Src && up {
				b.inbox[id] = append(b.inbox[id], env)
			}
		}
		return
	}
	if b.online[env.Dst] {
		b.inbox[env.Dst] = append(b.inbox[env.Dst], env)
	}
}

func (b *bus) poll(id string) (wire.Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.inbox[id]
	if len(q) == 0 {
		return wire.Envelope{}, false
	}
	b.inbox[id] = q[1:]
	return q[0], true
}

type busEndpoint struct {
	bus  *bus
	self string
}

func (e *busEndpoint) Send(env wire.Envelope) error {
	e.bus.deliver(env)
	return nil
}

func (e *busEndpoint) Recv(timeout time.Duration) (wire.Envelope, error) {
	if env, ok := e.bus.poll(e.self); ok {
		return env, nil
	}
	return wire.Envelope{}, ErrPollTimeout
}
