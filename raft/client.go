package raft

import "github.com/cohodb/raftkv/wire"

// requireLeader returns ErrNotLeader unless this replica believes itself
// the leader, giving the client-surface handlers a single check to
// branch a redirect off of instead of comparing r.leader inline at every
// call site.
func (r *Replica) requireLeader() error {
	if r.leader != r.cfg.Self {
		return ErrNotLeader
	}
	return nil
}

// handleGet admits a client GET: a non-leader redirects, otherwise the
// value is read from the state machine after a scan for an uncommitted
// PUT on the same key further along in the log than commit_index —
// without the scan a freshly-admitted PUT could be invisible to a GET
// that arrives on the same leader microseconds later.
func (r *Replica) handleGet(env wire.Envelope) {
	if err := r.requireLeader(); err != nil {
		r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeRedirect})
		return
	}

	if r.uncommittedKeyConflict(env.Key) {
		r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeRedirect})
		return
	}

	value := r.store.Get(env.Key)
	r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeOK}.WithValue(value))
}

// uncommittedKeyConflict scans the tail of the log beyond commit_index
// for an entry touching key. Its presence means the committed state
// machine value may already be stale with respect to what this leader
// has itself accepted but not yet replicated to a majority; the caller
// redirects the client in that case rather than answering with a value
// that a concurrent PUT is about to change.
func (r *Replica) uncommittedKeyConflict(key string) bool {
	for i := r.commitIndex + 1; i <= r.lastLogIndex(); i++ {
		entry, present := r.entryAt(i)
		if present && entry.Command.Op == wire.OpPut && entry.Command.Key == key {
			return true
		}
	}
	return false
}

// handlePut admits a client PUT: a non-leader redirects; a leader
// appends the command to its own log optimistically, acknowledges
// immediately, and stages the entry to ride on the next replication
// burst rather than waiting for that burst to complete before replying.
func (r *Replica) handlePut(env wire.Envelope) {
	if err := r.requireLeader(); err != nil {
		r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeRedirect})
		return
	}

	entry := wire.LogEntry{
		Index:   r.lastLogIndex() + 1,
		Term:    r.currentTerm,
		Command: wire.Put(env.Key, env.Value),
	}
	r.log = append(r.log, entry)
	r.unsentEntries = append(r.unsentEntries, entry)

	r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeOK})

	r.emitHeartbeat(r.now())
}
