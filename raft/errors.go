package raft

import "errors"

// ErrPollTimeout is returned by a Transport's Recv when no datagram
// arrived within the poll deadline. It is not a failure; the event loop
// treats it as "nothing to handle this tick" and proceeds straight to the
// timer evaluation.
var ErrPollTimeout = errors.New("raft: transport poll timed out")

// ErrNotLeader is returned by requireLeader when this replica does not
// believe itself the leader. A client-surface handler translates it into
// a redirect response (§4.4); it never itself reaches the wire.
var ErrNotLeader = errors.New("raft: not the leader")

// ErrUnknownMessageType is raised internally when a peer sends an
// envelope whose Type this replica doesn't recognize. That is treated as
// fatal rather than ignored — a peer message this binary can't interpret
// means the wire protocols have diverged, which self-healing can't fix.
var ErrUnknownMessageType = errors.New("raft: unknown message type from peer")
