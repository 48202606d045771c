package raft

import (
	"time"

	"github.com/cohodb/raftkv/wire"
)

// startElection begins a fresh candidacy at the (already incremented)
// current term: the candidate votes for itself, resets its
// election-start clock, and broadcasts a vote request.
func (r *Replica) startElection(now time.Time) {
	r.leader = ""
	r.votedFor = r.cfg.Self
	r.receivedVotes = 1
	r.resetCandidateTimer(now)
	r.logger.Infow("starting election", "term", r.currentTerm)
	r.broadcastVoteRequest()
}

// restartElection re-broadcasts a vote request at the same term, without
// incrementing it — a candidacy that stalled waiting on a split vote
// tries again rather than starting a fresh term from scratch.
func (r *Replica) restartElection(now time.Time) {
	r.receivedVotes = 1
	r.resetCandidateTimer(now)
	r.logger.Infow("restarting election", "term", r.currentTerm)
	r.broadcastVoteRequest()
}

func (r *Replica) broadcastVoteRequest() {
	r.send(wire.Envelope{
		Dst:          wire.BroadcastID,
		Type:         wire.TypeVoteRequest,
		Term:         r.currentTerm,
		CandidateID:  r.cfg.Self,
		LastLogIndex: r.lastLogIndex(),
		LastLogTerm:  r.lastLogTerm(),
	})
}

// handleVoteRequest implements the receiver side of vote request
// evaluation.
func (r *Replica) handleVoteRequest(env wire.Envelope) {
	now := r.now()
	r.stepDownIfStale(env.Term)

	if env.Term < r.currentTerm {
		r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeVoteResponse, Term: r.currentTerm, VoteGranted: false})
		return
	}

	if r.votedFor != "" && r.votedFor != env.CandidateID {
		// A sitting leader's "candidacy" never goes stale mid-term — it
		// has no election running to time out, and letting this check
		// clear its leader belief would let it hand its vote to a
		// challenger while still believing itself leader, putting two
		// leaders in the same term. The staleness window only applies to
		// an actual outstanding candidacy or a prior granted vote.
		stillFresh := r.leader == r.cfg.Self || now.Sub(r.electionStart) < r.candidateTimeout
		if stillFresh {
			r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeVoteResponse, Term: r.currentTerm, VoteGranted: false})
			return
		}
		// Our own candidacy (or debounce from a prior granted vote) is
		// stale: clear it and fall through to evaluate this request fresh.
		r.votedFor = ""
		r.leader = ""
		r.receivedVotes = 0
	}

	candidateUpToDate := env.LastLogTerm > r.lastLogTerm() ||
		(env.LastLogTerm == r.lastLogTerm() && env.LastLogIndex >= r.lastLogIndex())
	if !candidateUpToDate {
		r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeVoteResponse, Term: r.currentTerm, VoteGranted: false})
		return
	}

	r.votedFor = env.CandidateID
	r.resetElectionTimer(now)
	r.resetCandidateTimer(now)
	r.send(wire.Envelope{Dst: env.Src, Type: wire.TypeVoteResponse, Term: r.currentTerm, VoteGranted: true})
}

// handleVoteResponse implements the candidate-side tallying and
// ascension rules.
func (r *Replica) handleVoteResponse(env wire.Envelope) {
	if r.stepDownIfStale(env.Term) {
		return
	}
	// Only a response to our own current candidacy counts; a stray
	// reply from a prior term or after we've already moved on is
	// ignored.
	if r.votedFor != r.cfg.Self || env.Term != r.currentTerm {
		return
	}
	if !env.VoteGranted {
		return
	}

	r.receivedVotes++
	// cfg.Peers holds the *other* replicas; the cluster size (what
	// "majority" is relative to, per the glossary: "including the
	// leader") is len(Peers)+1.
	clusterSize := uint32(len(r.cfg.Peers)) + 1
	if r.receivedVotes <= clusterSize/2 {
		return
	}

	r.ascendToLeader()
}

// ascendToLeader fires once received votes strictly exceed half the
// cluster size (peers plus self): clear the vote tally, initialize per-peer leader bookkeeping,
// and immediately assert leadership with a heartbeat.
func (r *Replica) ascendToLeader() {
	r.leader = r.cfg.Self
	r.receivedVotes = 0
	r.nextIndex = make(map[string]uint64, len(r.cfg.Peers))
	r.matchIndex = make(map[string]uint64, len(r.cfg.Peers))
	for _, p := range r.cfg.Peers {
		r.nextIndex[p] = r.lastLogIndex() + 1
		r.matchIndex[p] = 0
	}
	r.unsentEntries = nil
	r.logger.Infow("became leader", "term", r.currentTerm)
	r.emitHeartbeat(r.now())
}
