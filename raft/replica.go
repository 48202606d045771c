package raft

import (
	"context"
	"errors"

	"github.com/cohodb/raftkv/wire"
)

// Run is the single-threaded event loop: on each iteration it polls the
// transport once, handles whatever envelope (if any) arrived, then
// evaluates the timing driver. It returns when ctx is canceled. There is
// no other suspension point — the only place this loop ever blocks is
// inside the transport poll.
func (r *Replica) Run(ctx context.Context) error {
	if err := r.trans.Send(wire.Envelope{
		Src: r.cfg.Self, Dst: wire.BroadcastID, Leader: wire.BroadcastID,
		Type: wire.TypeHello,
	}); err != nil {
		r.logger.Warnw("failed to send hello", "error", err)
	}
	r.lastHeartbeat = r.now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.drainQueries()

		env, err := r.trans.Recv(r.cfg.PollTimeout)
		switch {
		case err == nil:
			r.dispatch(env)
		case errors.Is(err, ErrPollTimeout):
			// Nothing arrived this tick; fall through to the timers.
		default:
			r.logger.Warnw("transport error", "error", err)
		}

		r.tick(r.now())
	}
}

// drainQueries answers every State() request queued since the last
// iteration, from inside the event-loop goroutine where currentTerm and
// leader are safe to read directly.
func (r *Replica) drainQueries() {
	for {
		select {
		case reply := <-r.queries:
			reply <- r.snapshot()
		default:
			return
		}
	}
}

// dispatch routes a decoded envelope to its handler: client requests to
// the client surface, election messages to the election protocol,
// replication messages to the replication protocol. A message destined
// for a different replica is silently dropped and a hello needs no
// reaction; any other envelope whose Type this replica doesn't recognize
// is a fatal condition, whoever sent it.
func (r *Replica) dispatch(env wire.Envelope) {
	if env.Dst != r.cfg.Self && env.Dst != wire.BroadcastID {
		return
	}

	switch env.Type {
	case wire.TypeHello:
		// No reaction required; hello only announces a process is alive.
	case wire.TypeGet:
		r.handleClientRequest(env, r.handleGet)
	case wire.TypePut:
		r.handleClientRequest(env, r.handlePut)
	case wire.TypeVoteRequest:
		r.handlePeerMessage(env, r.handleVoteRequest)
	case wire.TypeVoteResponse:
		r.handlePeerMessage(env, r.handleVoteResponse)
	case wire.TypeAppendEntries:
		r.handlePeerMessage(env, r.handleAppendEntries)
	case wire.TypeAppendEntriesResponse:
		r.handlePeerMessage(env, r.handleAppendEntriesResponse)
	default:
		r.abort(ErrUnknownMessageType.Error() + ": " + string(env.Type))
	}
}

// handleClientRequest runs a get/put handler behind a recover boundary:
// an internal failure surfaces as {type: fail, MID} instead of crashing
// the event loop (§4.4, §7: "Internal exception in handler — respond
// fail for client requests").
func (r *Replica) handleClientRequest(env wire.Envelope, handle func(wire.Envelope)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("recovered panic handling client request", "type", env.Type, "panic", rec)
			r.send(wire.Envelope{Dst: env.Src, MID: env.MID, Type: wire.TypeFail})
		}
	}()
	handle(env)
}

// handlePeerMessage runs a peer RPC handler behind a recover boundary: an
// internal failure is logged and swallowed rather than answered (§7:
// "Internal exception in handler — ... swallow for peer RPCs"), since a
// peer message carries no MID to correlate a reply to and the protocol
// is already self-healing via heartbeats and retransmission.
func (r *Replica) handlePeerMessage(env wire.Envelope, handle func(wire.Envelope)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorw("recovered panic handling peer message", "type", env.Type, "panic", rec)
		}
	}()
	handle(env)
}

// send transmits env, logging but not failing the event loop on a
// transport error — the protocol is self-healing via heartbeats and
// retransmission, so a dropped send is recovered on the next cycle.
func (r *Replica) send(env wire.Envelope) {
	env.Src = r.cfg.Self
	if env.Leader == "" {
		env.Leader = r.believedLeader()
	}
	if err := r.trans.Send(env); err != nil {
		r.logger.Warnw("send failed", "type", env.Type, "dst", env.Dst, "error", err)
	}
}

func (r *Replica) believedLeader() string {
	if r.leader == "" {
		return wire.BroadcastID
	}
	return r.leader
}

// stepDownIfStale adopts term if it exceeds currentTerm, clearing vote
// and leader belief: any message carrying a higher term than the
// receiver's forces the receiver to adopt that term. It reports whether
// a step-down happened.
func (r *Replica) stepDownIfStale(term uint64) bool {
	if term <= r.currentTerm {
		return false
	}
	r.currentTerm = term
	r.votedFor = ""
	r.leader = ""
	r.receivedVotes = 0
	return true
}
