// Package raft implements the consensus core: replica state, the timing
// driver, the election protocol, the replication protocol, and the
// client surface. All of it runs as a single-threaded event loop per
// Replica — there are no internal locks and no parallel handlers.
package raft

import (
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/cohodb/raftkv/store"
	"github.com/cohodb/raftkv/wire"
)

// Transport is the out-of-core collaborator a Replica sends and receives
// envelopes through. Recv must return ErrPollTimeout when nothing
// arrives within timeout, rather than blocking indefinitely, so the
// event loop can still evaluate its timers on an idle network.
type Transport interface {
	Send(wire.Envelope) error
	Recv(timeout time.Duration) (wire.Envelope, error)
}

// Config bundles a replica's static identity and its timing bands. All
// fields have sensible defaults via DefaultConfig.
type Config struct {
	Self  string
	Peers []string

	HeartbeatPeriod time.Duration

	ElectionDeadlineMin time.Duration
	ElectionDeadlineMax time.Duration

	CandidateDeadlineMin time.Duration
	CandidateDeadlineMax time.Duration

	// PollTimeout bounds how long a single Transport.Recv call may block,
	// so an idle network still lets the event loop reach its timers.
	PollTimeout time.Duration

	// Rand drives this replica's independent timer randomization.
	// Defaults to a source seeded from Self's bytes when nil, so distinct
	// replicas started at the same instant still desync.
	Rand *rand.Rand
}

// DefaultConfig returns nominal timing bands for the given cluster
// membership.
func DefaultConfig(self string, peers []string) Config {
	return Config{
		Self:                 self,
		Peers:                append([]string(nil), peers...),
		HeartbeatPeriod:      150 * time.Millisecond,
		ElectionDeadlineMin:  500 * time.Millisecond,
		ElectionDeadlineMax:  1500 * time.Millisecond,
		CandidateDeadlineMin: 400 * time.Millisecond,
		CandidateDeadlineMax: 600 * time.Millisecond,
		PollTimeout:          200 * time.Millisecond,
	}
}

// Replica is the per-process Raft state, held as a single owned record:
// every field here is read and written only by the goroutine running
// Run.
type Replica struct {
	cfg    Config
	store  *store.Store
	trans  Transport
	logger *zap.SugaredLogger
	now    func() time.Time

	// abort is invoked on a fatal condition (an unknown message type from
	// a peer). It defaults to logging and exiting the process; tests
	// substitute a non-exiting stub so a negative case doesn't kill the
	// test binary.
	abort func(reason string)

	// Persistent state on all replicas.
	currentTerm uint64
	votedFor    string // "" means unset
	log         []wire.LogEntry
	commitIndex uint64
	lastApplied uint64

	// Leader-belief and timer state.
	leader           string // "" means unknown
	lastHeartbeat    time.Time
	electionStart    time.Time
	receivedVotes    uint32
	electionDeadline time.Duration
	candidateTimeout time.Duration

	// Leader-only state. Reset on ascension, ignored otherwise.
	nextIndex     map[string]uint64
	matchIndex    map[string]uint64
	unsentEntries []wire.LogEntry

	// queries carries State() requests from other goroutines in; Run
	// answers them between transport polls instead of the fields above
	// ever being touched outside the event-loop goroutine.
	queries chan chan stateSnapshot
}

// stateSnapshot is the answer to a State() query.
type stateSnapshot struct {
	term     uint64
	leader   string
	isLeader bool
}

// New constructs a Replica. It does not start the event loop; call Run
// for that.
func New(cfg Config, trans Transport, st *store.Store, logger *zap.SugaredLogger) *Replica {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(seedFrom(cfg.Self)))
	}
	r := &Replica{
		cfg:     cfg,
		store:   st,
		trans:   trans,
		logger:  logger.With("replica", cfg.Self),
		now:     time.Now,
		queries: make(chan chan stateSnapshot, 8),
	}
	r.abort = r.defaultAbort
	r.electionDeadline = r.randomDuration(cfg.ElectionDeadlineMin, cfg.ElectionDeadlineMax)
	r.candidateTimeout = r.randomDuration(cfg.CandidateDeadlineMin, cfg.CandidateDeadlineMax)
	return r
}

func (r *Replica) defaultAbort(reason string) {
	r.logger.Fatalw("aborting replica", "reason", reason)
}

// seedFrom derives a deterministic-but-distinct seed from a replica id,
// so two replicas constructed in the same process tick don't share a
// math/rand source — symmetric timers would let every replica time out
// in lockstep and deadlock the cluster on repeated split votes.
func seedFrom(id string) int64 {
	var h int64 = 1469598103934665603 // FNV offset basis
	for _, b := range []byte(id) {
		h ^= int64(b)
		h *= 1099511628211 // FNV prime
	}
	if h == 0 {
		h = 1
	}
	return h
}

func (r *Replica) randomDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	span := int64(max - min)
	return min + time.Duration(r.cfg.Rand.Int63n(span))
}

// State returns the replica's current term and believed leader, for
// observability (logging, tests); it is not part of the wire protocol.
// Safe to call from any goroutine while Run is active: it hands a reply
// channel to the event loop rather than reading currentTerm/leader
// directly, since those fields are otherwise exclusively owned by the
// goroutine running Run.
func (r *Replica) State() (term uint64, leader string, isLeader bool) {
	reply := make(chan stateSnapshot, 1)
	r.queries <- reply
	snap := <-reply
	return snap.term, snap.leader, snap.isLeader
}

// snapshot captures the fields State() reports, read from inside the
// event loop where they're safe to touch directly.
func (r *Replica) snapshot() stateSnapshot {
	return stateSnapshot{term: r.currentTerm, leader: r.leader, isLeader: r.leader == r.cfg.Self}
}

// lastLogIndex returns the index of the last entry in the log, or 0 if
// the log is empty (spec.md §3: indices start at 1).
func (r *Replica) lastLogIndex() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Index
}

// lastLogTerm returns the term of the last entry in the log, or 0 if the
// log is empty.
func (r *Replica) lastLogTerm() uint64 {
	if len(r.log) == 0 {
		return 0
	}
	return r.log[len(r.log)-1].Term
}

// entryAt returns the entry at the given 1-based index and whether it
// exists. The log is dense from index 1 (spec.md §3 invariant 2), so
// index maps directly to a slice position.
func (r *Replica) entryAt(index uint64) (wire.LogEntry, bool) {
	if index < 1 || index > uint64(len(r.log)) {
		return wire.LogEntry{}, false
	}
	return r.log[index-1], true
}

// termAt returns the term of the entry at index, or 0 if index is 0 or
// out of range (the "no previous entry" sentinel used throughout §4.5).
func (r *Replica) termAt(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	e, ok := r.entryAt(index)
	if !ok {
		return 0
	}
	return e.Term
}
