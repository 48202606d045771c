package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the envelope's `type` field.
type Type string

const (
	TypeHello                 Type = "hello"
	TypeGet                   Type = "get"
	TypePut                   Type = "put"
	TypeOK                    Type = "ok"
	TypeFail                  Type = "fail"
	TypeRedirect              Type = "redirect"
	TypeVoteRequest           Type = "vote_request"
	TypeVoteResponse          Type = "vote_response"
	TypeAppendEntries         Type = "append_entries"
	TypeAppendEntriesResponse Type = "append_entries_response"
)

// Envelope is the single wire struct carrying every message type this
// system speaks. Every replica and client message is one of these; the
// fields that matter depend on Type.
//
// Extra holds any JSON object keys this process doesn't recognize. The
// codec preserves them across a round trip on any message carrying a MID,
// so a newer client/peer can carry fields this binary doesn't understand
// without losing them in transit on a correlated request/response pair.
type Envelope struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Leader string `json:"leader"`
	Type   Type   `json:"type"`

	// Client request/response fields. Value is the PUT request's value on
	// a put envelope, and the optional GET-response value on an ok
	// envelope; a missing key's GET reply carries the empty string either
	// way, so one field without a presence flag covers both (spec.md
	// §4.6: "A missing key yields the empty string").
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
	MID   string `json:"MID,omitempty"`

	// Election fields.
	Term         uint64 `json:"term,omitempty"`
	CandidateID  string `json:"candidate_id,omitempty"`
	LastLogIndex uint64 `json:"last_log_index,omitempty"`
	LastLogTerm  uint64 `json:"last_log_term,omitempty"`
	VoteGranted  bool   `json:"vote_granted,omitempty"`

	// Replication fields.
	PrevLogIndex uint64     `json:"prev_log_index,omitempty"`
	PrevLogTerm  uint64     `json:"prev_log_term,omitempty"`
	LeaderCommit uint64     `json:"leader_commit,omitempty"`
	Entries      []LogEntry `json:"entries,omitempty"`
	Success      bool       `json:"success,omitempty"`
	CurrentIndex uint64     `json:"current_index,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// knownFields lists every JSON key the struct tags above already cover, so
// Unmarshal can tell a genuinely unknown field apart from one of these.
var knownFields = map[string]bool{
	"src": true, "dst": true, "leader": true, "type": true,
	"key": true, "value": true, "MID": true,
	"term": true, "candidate_id": true, "last_log_index": true, "last_log_term": true, "vote_granted": true,
	"prev_log_index": true, "prev_log_term": true, "leader_commit": true, "entries": true,
	"success": true, "current_index": true,
}

// Decode parses a single JSON envelope. A malformed message is reported
// as an error; the caller drops it and advances no state.
func Decode(data []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed envelope: %w", err)
	}

	var env Envelope
	// Decode the typed fields through the struct's own json tags, then
	// separately collect whatever keys it left on the table.
	if err := json.Unmarshal(data, (*envelopeAlias)(&env)); err != nil {
		return Envelope{}, fmt.Errorf("wire: malformed envelope: %w", err)
	}
	for k, v := range raw {
		if !knownFields[k] {
			if env.Extra == nil {
				env.Extra = make(map[string]json.RawMessage)
			}
			env.Extra[k] = v
		}
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("wire: envelope missing type")
	}
	return env, nil
}

// envelopeAlias has the same fields and tags as Envelope; Encode and
// Decode marshal the typed fields through it.
type envelopeAlias Envelope

// Encode serializes the envelope. Extra fields are merged back in only
// when MID is set — unknown fields only need to survive a round trip on
// a correlated client request/response, not on every internal message.
func Encode(env Envelope) ([]byte, error) {
	base, err := json.Marshal((*envelopeAlias)(&env))
	if err != nil {
		return nil, fmt.Errorf("wire: encode envelope: %w", err)
	}
	if env.MID == "" || len(env.Extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("wire: re-decode envelope for merge: %w", err)
	}
	for k, v := range env.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// WithValue sets the GET-response value field.
func (e Envelope) WithValue(v string) Envelope {
	e.Value = v
	return e
}

// ValueOrEmpty returns the response value ("" if the key was never set).
func (e Envelope) ValueOrEmpty() string {
	return e.Value
}
