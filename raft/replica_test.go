package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohodb/raftkv/wire"
)

func TestHandleClientRequest_RecoversPanicAsFail(t *testing.T) {
	b := newBus("a", "client")
	r, _ := newTestReplica(t, "a", nil, b)

	r.handleClientRequest(wire.Envelope{Src: "client", Type: wire.TypeGet, MID: "m1"}, func(wire.Envelope) {
		panic("boom")
	})

	env, ok := b.poll("client")
	require.True(t, ok, "a recovered client-handler panic must still reply")
	assert.Equal(t, wire.TypeFail, env.Type)
	assert.Equal(t, "m1", env.MID)
}

func TestHandlePeerMessage_RecoversPanicSilently(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)

	r.handlePeerMessage(wire.Envelope{Src: "b", Type: wire.TypeAppendEntries}, func(wire.Envelope) {
		panic("boom")
	})

	_, ok := b.poll("b")
	assert.False(t, ok, "a recovered peer-handler panic must be swallowed, not answered")
}

func TestDispatch_UnknownPeerMessageAborts(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	var reason string
	r.abort = func(s string) { reason = s }

	r.dispatch(wire.Envelope{Src: "b", Dst: "a", Type: "bogus"})

	assert.Contains(t, reason, "bogus")
}
