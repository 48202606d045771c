package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	cases := []Envelope{
		{Src: "0000", Dst: BroadcastID, Leader: BroadcastID, Type: TypeHello},
		{Src: "c001", Dst: "0000", Leader: BroadcastID, Type: TypeGet, Key: "x", MID: "m1"},
		{Src: "c001", Dst: "0000", Leader: "0000", Type: TypePut, Key: "x", Value: "1", MID: "m2"},
		{Src: "0000", Dst: "c001", Leader: "0000", Type: TypeOK, MID: "m1"},
		{Src: "0000", Dst: "c001", Leader: "0000", Type: TypeOK, MID: "m1", Value: "1"},
		{Src: "0000", Dst: "c001", Leader: "0000", Type: TypeOK, MID: "m1", Value: ""},
		{Src: "0000", Dst: "c001", Leader: "0000", Type: TypeFail, MID: "m3"},
		{Src: "0000", Dst: "c001", Leader: "0001", Type: TypeRedirect, MID: "m4"},
		{
			Src: "0001", Dst: BroadcastID, Leader: BroadcastID, Type: TypeVoteRequest,
			Term: 3, CandidateID: "0001", LastLogIndex: 5, LastLogTerm: 2,
		},
		{Src: "0000", Dst: "0001", Leader: BroadcastID, Type: TypeVoteResponse, Term: 3, VoteGranted: true},
		{Src: "0000", Dst: "0001", Leader: BroadcastID, Type: TypeVoteResponse, Term: 4, VoteGranted: false},
		{
			Src: "0000", Dst: BroadcastID, Leader: "0000", Type: TypeAppendEntries,
			Term: 2, PrevLogIndex: 1, PrevLogTerm: 1, LeaderCommit: 1,
			Entries: []LogEntry{{Index: 2, Term: 2, Command: Put("x", "1")}},
		},
		{Src: "0000", Dst: BroadcastID, Leader: "0000", Type: TypeAppendEntries, Term: 2, PrevLogIndex: 3, PrevLogTerm: 2},
		{Src: "0001", Dst: "0000", Leader: "0000", Type: TypeAppendEntriesResponse, Term: 2, Success: true, CurrentIndex: 2},
		{Src: "0001", Dst: "0000", Leader: "0000", Type: TypeAppendEntriesResponse, Term: 3, Success: false},
	}

	for _, want := range cases {
		data, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEnvelopePreservesUnknownFieldsWhenMIDPresent(t *testing.T) {
	raw := []byte(`{"src":"0000","dst":"c001","leader":"0000","type":"ok","MID":"m1","trace_id":"abc123"}`)
	env, err := Decode(raw)
	require.NoError(t, err)
	require.Contains(t, env.Extra, "trace_id")

	out, err := Encode(env)
	require.NoError(t, err)
	roundTripped, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, env.Extra["trace_id"], roundTripped.Extra["trace_id"])
}

func TestEnvelopeDropsUnknownFieldsWithoutMID(t *testing.T) {
	raw := []byte(`{"src":"0000","dst":"FFFF","leader":"FFFF","type":"hello","scratch":"1"}`)
	env, err := Decode(raw)
	require.NoError(t, err)
	require.Contains(t, env.Extra, "scratch")

	out, err := Encode(env)
	require.NoError(t, err)
	roundTripped, err := Decode(out)
	require.NoError(t, err)
	assert.NotContains(t, roundTripped.Extra, "scratch")
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	require.Error(t, err)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"src":"0000","dst":"0001","leader":"FFFF"}`))
	require.Error(t, err)
}
