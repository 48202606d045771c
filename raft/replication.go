package raft

import (
	"sort"
	"time"

	"github.com/cohodb/raftkv/wire"
)

// emitHeartbeat sends an append_entries burst to every peer and resets
// the heartbeat clock. When the leader has newly-accepted PUTs staged in
// unsentEntries, they ride along on this same broadcast instead of
// waiting for the next heartbeat tick.
func (r *Replica) emitHeartbeat(now time.Time) {
	entries := r.unsentEntries
	r.unsentEntries = nil
	r.broadcastAppendEntries(entries)
	r.lastHeartbeat = now
}

// broadcastAppendEntries sends the same append_entries envelope to every
// peer. Per-peer retransmission on refusal is handled separately in
// handleAppendEntriesResponse, which addresses prev_log_index to that
// peer's own next_index.
func (r *Replica) broadcastAppendEntries(entries []wire.LogEntry) {
	prevLogIndex := r.lastLogIndex()
	if len(entries) > 0 {
		prevLogIndex = entries[0].Index - 1
	}
	r.send(wire.Envelope{
		Dst:          wire.BroadcastID,
		Type:         wire.TypeAppendEntries,
		Term:         r.currentTerm,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  r.termAt(prevLogIndex),
		LeaderCommit: r.commitIndex,
		Entries:      entries,
	})
}

// retransmitTo re-sends the peer's outstanding tail after a refused
// append, addressed using that peer's own next_index.
func (r *Replica) retransmitTo(peer string) {
	next := r.nextIndex[peer]
	var entries []wire.LogEntry
	for i := next; i <= r.lastLogIndex(); i++ {
		e, ok := r.entryAt(i)
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	prevLogIndex := next - 1
	r.send(wire.Envelope{
		Dst:          peer,
		Type:         wire.TypeAppendEntries,
		Term:         r.currentTerm,
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  r.termAt(prevLogIndex),
		LeaderCommit: r.commitIndex,
		Entries:      entries,
	})
}

// handleAppendEntries implements the follower side of log replication.
func (r *Replica) handleAppendEntries(env wire.Envelope) {
	now := r.now()

	if env.Term < r.currentTerm {
		r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeAppendEntriesResponse, Term: r.currentTerm, Success: false})
		return
	}

	r.stepDownIfStale(env.Term)
	r.currentTerm = env.Term
	r.leader = env.Leader
	if r.leader == "" {
		r.leader = env.Src
	}
	// A self-candidacy that didn't pan out is abandoned now that a
	// leader has emerged. A vote we granted to some other candidate
	// stays fixed for the term — recognizing whoever ended up leading
	// doesn't retroactively free that vote.
	if r.votedFor == r.cfg.Self {
		r.votedFor = ""
		r.receivedVotes = 0
	}
	r.resetElectionTimer(now)

	if len(env.Entries) == 0 {
		// A heartbeat: no log mutation, no ack required.
		if env.LeaderCommit > r.commitIndex {
			r.commitIndex = min(env.LeaderCommit, r.lastLogIndex())
			r.applyCommitted()
		}
		return
	}

	if env.PrevLogIndex != 0 {
		prevEntry, ok := r.entryAt(env.PrevLogIndex)
		if !ok || prevEntry.Term != env.PrevLogTerm {
			r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeAppendEntriesResponse, Term: r.currentTerm, Success: false})
			return
		}
	}

	r.mergeEntries(env.Entries)

	if env.LeaderCommit > r.commitIndex {
		r.commitIndex = min(env.LeaderCommit, r.lastLogIndex())
		r.applyCommitted()
	}

	r.send(wire.Envelope{
		Dst: env.Src, Type: wire.TypeAppendEntriesResponse,
		Term: r.currentTerm, Success: true, CurrentIndex: r.lastLogIndex(),
	})
}

// mergeEntries truncates the local log at the first conflicting index,
// then appends whatever of the new entries isn't already present.
func (r *Replica) mergeEntries(entries []wire.LogEntry) {
	for _, incoming := range entries {
		if local, ok := r.entryAt(incoming.Index); ok {
			if local.Term == incoming.Term {
				continue // already present and matching, nothing to do
			}
			// Conflict: truncate to indices < incoming.Index and take
			// the new tail from here on.
			r.log = r.log[:incoming.Index-1]
		}
		if incoming.Index == r.lastLogIndex()+1 {
			r.log = append(r.log, incoming)
		}
	}
}

// handleAppendEntriesResponse implements the leader side of log
// replication: match/next index bookkeeping on success, backoff and
// retry on refusal, and majority-based commit advancement.
func (r *Replica) handleAppendEntriesResponse(env wire.Envelope) {
	if r.stepDownIfStale(env.Term) {
		return
	}
	if r.leader != r.cfg.Self || env.Term != r.currentTerm {
		return
	}

	peer := env.Src
	if !env.Success {
		if _, known := r.nextIndex[peer]; !known {
			return
		}
		if r.nextIndex[peer] > 1 {
			r.nextIndex[peer]--
		}
		r.retransmitTo(peer)
		return
	}

	r.matchIndex[peer] = env.CurrentIndex
	r.nextIndex[peer] = env.CurrentIndex + 1
	r.advanceCommitIndex()
}

// advanceCommitIndex sorts the match_index values together with the
// leader's own last_log_index, and takes the entry at position
// ceil(n/2)-1 — the highest index replicated on a strict majority
// including the leader itself.
func (r *Replica) advanceCommitIndex() {
	indices := make([]uint64, 0, len(r.cfg.Peers)+1)
	indices = append(indices, r.lastLogIndex())
	for _, p := range r.cfg.Peers {
		indices = append(indices, r.matchIndex[p])
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	n := len(indices)
	candidate := indices[(n+1)/2-1]
	if candidate <= r.commitIndex {
		return
	}

	// A leader never commits a prior-term entry directly; it only
	// commits one as a side effect of committing a current-term entry
	// above it.
	if r.termAt(candidate) != r.currentTerm {
		return
	}

	r.commitIndex = candidate
	r.applyCommitted()
}

// applyCommitted applies every entry in (last_applied, commit_index] to
// the state machine, in ascending index order.
func (r *Replica) applyCommitted() {
	for r.lastApplied < r.commitIndex {
		r.lastApplied++
		entry, ok := r.entryAt(r.lastApplied)
		if !ok {
			// commit_index never exceeds last_log_index, so this doesn't
			// happen; defensive stop if it somehow did.
			r.lastApplied--
			return
		}
		if entry.Command.Op == wire.OpPut {
			r.store.Put(entry.Command.Key, entry.Command.Value)
		}
	}
}
