package raft

import "time"

// tick evaluates the timing driver, in order: leader heartbeat emission,
// then election start, then candidate restart. It runs once per
// event-loop iteration, after the (possibly empty) read from the
// transport — timers are not preemptive, they only fire from here.
func (r *Replica) tick(now time.Time) {
	if r.leader == r.cfg.Self && now.Sub(r.lastHeartbeat) > r.cfg.HeartbeatPeriod {
		r.emitHeartbeat(now)
	}

	if r.votedFor == "" && now.Sub(r.lastHeartbeat) > r.electionDeadline {
		r.currentTerm++
		r.startElection(now)
	}

	if r.votedFor == r.cfg.Self && r.leader != r.cfg.Self && now.Sub(r.electionStart) > r.candidateTimeout {
		r.restartElection(now)
	}
}

// resetElectionTimer re-rolls this replica's randomized election deadline
// and records now as the new baseline. It is called whenever the replica
// has a legitimate reason to stop counting toward its own election —
// hearing from a leader or granting a vote — so repeated timeouts don't
// keep re-using the same band edge. Starting a candidacy resets only the
// candidate timer (resetCandidateTimer).
func (r *Replica) resetElectionTimer(now time.Time) {
	r.lastHeartbeat = now
	r.electionDeadline = r.randomDuration(r.cfg.ElectionDeadlineMin, r.cfg.ElectionDeadlineMax)
}

func (r *Replica) resetCandidateTimer(now time.Time) {
	r.electionStart = now
	r.candidateTimeout = r.randomDuration(r.cfg.CandidateDeadlineMin, r.cfg.CandidateDeadlineMax)
}
