package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohodb/raftkv/wire"
)

func TestHandleAppendEntries_HeartbeatAdvancesCommitOnly(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	r.currentTerm = 1
	r.log = []wire.LogEntry{{Index: 1, Term: 1, Command: wire.Put("k", "v")}}

	r.handleAppendEntries(wire.Envelope{
		Src: "b", Type: wire.TypeAppendEntries, Term: 1, Leader: "b",
		PrevLogIndex: 1, PrevLogTerm: 1, LeaderCommit: 1,
	})

	assert.EqualValues(t, 1, r.commitIndex)
	assert.Equal(t, "v", r.store.Get("k"))
	_, acked := b.poll("b")
	assert.False(t, acked, "a heartbeat (no entries) requires no response")
}

func TestHandleAppendEntries_RejectsOnPrevLogMismatch(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	r.currentTerm = 2
	r.log = []wire.LogEntry{{Index: 1, Term: 1, Command: wire.Put("k", "v")}}

	r.handleAppendEntries(wire.Envelope{
		Src: "b", Type: wire.TypeAppendEntries, Term: 2, Leader: "b",
		PrevLogIndex: 1, PrevLogTerm: 2, // term mismatch at index 1
		Entries: []wire.LogEntry{{Index: 2, Term: 2, Command: wire.Put("k2", "v2")}},
	})

	env, ok := b.poll("b")
	require.True(t, ok)
	assert.False(t, env.Success)
	assert.Len(t, r.log, 1, "log must not be mutated on a rejected append")
}

func TestHandleAppendEntries_MergeAppendsAndAcks(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	r.currentTerm = 1

	r.handleAppendEntries(wire.Envelope{
		Src: "b", Type: wire.TypeAppendEntries, Term: 1, Leader: "b",
		PrevLogIndex: 0, PrevLogTerm: 0,
		Entries: []wire.LogEntry{{Index: 1, Term: 1, Command: wire.Put("k", "v")}},
	})

	env, ok := b.poll("b")
	require.True(t, ok)
	assert.True(t, env.Success)
	assert.EqualValues(t, 1, env.CurrentIndex)
	require.Len(t, r.log, 1)
	assert.Equal(t, "k", r.log[0].Command.Key)
}

func TestMergeEntries_TruncatesOnConflict(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	r.log = []wire.LogEntry{
		{Index: 1, Term: 1, Command: wire.Put("k1", "v1")},
		{Index: 2, Term: 1, Command: wire.Put("k2", "stale")},
	}

	r.mergeEntries([]wire.LogEntry{{Index: 2, Term: 2, Command: wire.Put("k2", "fresh")}})

	require.Len(t, r.log, 2)
	assert.EqualValues(t, 2, r.log[1].Term)
	assert.Equal(t, "fresh", r.log[1].Command.Value)
}

func TestHandleAppendEntriesResponse_RetreatsNextIndexOnFailure(t *testing.T) {
	b := newBus("a", "b")
	r, _ := newTestReplica(t, "a", []string{"b"}, b)
	r.currentTerm = 1
	r.leader = "a"
	r.log = []wire.LogEntry{
		{Index: 1, Term: 1, Command: wire.Put("k1", "v1")},
		{Index: 2, Term: 1, Command: wire.Put("k2", "v2")},
	}
	r.nextIndex = map[string]uint64{"b": 3}
	r.matchIndex = map[string]uint64{"b": 0}

	r.handleAppendEntriesResponse(wire.Envelope{Src: "b", Type: wire.TypeAppendEntriesResponse, Term: 1, Success: false})

	assert.EqualValues(t, 2, r.nextIndex["b"])
	env, ok := b.poll("b")
	require.True(t, ok, "a retreat should immediately retransmit")
	assert.Equal(t, wire.TypeAppendEntries, env.Type)
	require.Len(t, env.Entries, 1)
	assert.EqualValues(t, 2, env.Entries[0].Index)
}

func TestAdvanceCommitIndex_RequiresCurrentTermEntry(t *testing.T) {
	b := newBus("a", "b", "c")
	r, _ := newTestReplica(t, "a", []string{"b", "c"}, b)
	r.currentTerm = 2
	r.leader = "a"
	r.log = []wire.LogEntry{
		{Index: 1, Term: 1, Command: wire.Put("k1", "v1")},
	}
	r.nextIndex = map[string]uint64{"b": 2, "c": 2}
	r.matchIndex = map[string]uint64{"b": 1, "c": 1}

	r.advanceCommitIndex()

	assert.EqualValues(t, 0, r.commitIndex, "a prior-term entry must not be committed directly even with a majority")
}

func TestAdvanceCommitIndex_CommitsOnMajorityCurrentTerm(t *testing.T) {
	b := newBus("a", "b", "c")
	r, _ := newTestReplica(t, "a", []string{"b", "c"}, b)
	r.currentTerm = 2
	r.leader = "a"
	r.log = []wire.LogEntry{
		{Index: 1, Term: 1, Command: wire.Put("k1", "v1")},
		{Index: 2, Term: 2, Command: wire.Put("k2", "v2")},
	}
	r.nextIndex = map[string]uint64{"b": 3, "c": 1}
	r.matchIndex = map[string]uint64{"b": 2, "c": 0}

	r.advanceCommitIndex()

	assert.EqualValues(t, 2, r.commitIndex)
	assert.Equal(t, "v1", r.store.Get("k1"))
	assert.Equal(t, "v2", r.store.Get("k2"))
}
