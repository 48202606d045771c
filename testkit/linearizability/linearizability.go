// Package linearizability checks whether a recorded history of concurrent
// operations against a system under test admits some sequential ordering
// consistent with a Model — the Wing & Gong linearizability-checking
// algorithm, searching the space of possible linearizations with a
// memoization cache keyed on which operations have been linearized so
// far plus the resulting model state.
package linearizability

import (
	"sort"
	"sync/atomic"
	"time"
)

type entryKind bool

const (
	callEntry   entryKind = false
	returnEntry           = true
)

// entry is one call or return, with a timestamp used only to build the
// initial chronological ordering before the search begins.
type entry struct {
	kind  entryKind
	value interface{}
	id    uint
	time  int64
}

type byTime []entry

func (a byTime) Len() int           { return len(a) }
func (a byTime) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byTime) Less(i, j int) bool { return a[i].time < a[j].time }

// makeEntries flattens a slice of Operations into call/return entries in
// call-then-return pairs, sorted by wall-clock time.
func makeEntries(history []Operation) []entry {
	var entries []entry
	id := uint(0)
	for _, op := range history {
		entries = append(entries, entry{callEntry, op.Input, id, op.Call})
		entries = append(entries, entry{returnEntry, op.Output, id, op.Return})
		id++
	}
	sort.Sort(byTime(entries))
	return entries
}

// node is the doubly linked list the search walks back and forth over:
// lift/unlift splice an operation in and out without reallocating the
// list, so backtracking is cheap.
type node struct {
	value interface{}
	match *node // the node's paired return (for a call) or nil (for a return)
	id    uint
	next  *node
	prev  *node
}

func insertBefore(n *node, mark *node) *node {
	if mark != nil {
		beforeMark := mark.prev
		mark.prev = n
		n.next = mark
		if beforeMark != nil {
			n.prev = beforeMark
			beforeMark.next = n
		}
	}
	return n
}

func length(n *node) uint {
	l := uint(0)
	for n != nil {
		n = n.next
		l++
	}
	return l
}

// renumber assigns dense 0-based ids across a (possibly sparse) event
// history, so the bitset sizing in checkSingle stays tight.
func renumber(events []Event) []Event {
	var e []Event
	m := make(map[uint]uint)
	id := uint(0)
	for _, v := range events {
		if r, ok := m[v.Id]; ok {
			e = append(e, Event{v.Kind, v.Value, r})
		} else {
			e = append(e, Event{v.Kind, v.Value, id})
			m[v.Id] = id
			id++
		}
	}
	return e
}

func convertEntries(events []Event) []entry {
	var entries []entry
	for _, elem := range events {
		kind := callEntry
		if elem.Kind == ReturnEvent {
			kind = returnEntry
		}
		entries = append(entries, entry{kind, elem.Value, elem.Id, -1})
	}
	return entries
}

// makeLinkedEntries builds the node list the search operates on, walking
// entries back to front so each return node already exists by the time
// its call is visited and can be linked to it as the call's match.
func makeLinkedEntries(entries []entry) *node {
	var root *node
	match := make(map[uint]*node)
	for i := len(entries) - 1; i >= 0; i-- {
		elem := entries[i]
		if elem.kind {
			n := &node{value: elem.value, match: nil, id: elem.id}
			match[elem.id] = n
			insertBefore(n, root)
			root = n
		} else {
			n := &node{value: elem.value, match: match[elem.id], id: elem.id}
			insertBefore(n, root)
			root = n
		}
	}
	return root
}

// cacheEntry records a (linearized-set, resulting state) pair the search
// has already tried, so it doesn't redo work reaching the same shape by a
// different path.
type cacheEntry struct {
	linearized bitset
	state      interface{}
}

func cacheContains(model Model, cache map[uint64][]cacheEntry, entry cacheEntry) bool {
	for _, elem := range cache[entry.linearized.hash()] {
		if entry.linearized.equals(elem.linearized) && model.Equal(entry.state, elem.state) {
			return true
		}
	}
	return false
}

// callsEntry is a choice point the search can backtrack to: the call node
// it lifted out, and the model state just before that call was applied.
type callsEntry struct {
	entry *node
	state interface{}
}

func lift(entry *node) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	match := entry.match
	match.prev.next = match.next
	if match.next != nil {
		match.next.prev = match.prev
	}
}

func unlift(entry *node) {
	match := entry.match
	match.prev.next = match
	if match.next != nil {
		match.next.prev = match
	}
	entry.prev.next = entry
	entry.next.prev = entry
}

// checkSingle runs the search over one partition: at each step it either
// tries linearizing the next outstanding call against the model, or, if
// nothing linearizes from here, backtracks to the last choice point. kill
// lets a sibling partition's failure abort this one early.
func checkSingle(model Model, subhistory *node, kill *int32) bool {
	n := length(subhistory) / 2
	linearized := newBitset(n)
	cache := make(map[uint64][]cacheEntry)
	var calls []callsEntry

	state := model.Init()
	headEntry := insertBefore(&node{value: nil, match: nil, id: ^uint(0)}, subhistory)
	entry := subhistory
	for headEntry.next != nil {
		if atomic.LoadInt32(kill) != 0 {
			return false
		}
		if entry.match != nil {
			matching := entry.match
			ok, newState := model.Step(state, entry.value, matching.value)
			if ok {
				newLinearized := linearized.clone().set(entry.id)
				newCacheEntry := cacheEntry{newLinearized, newState}
				if !cacheContains(model, cache, newCacheEntry) {
					hash := newLinearized.hash()
					cache[hash] = append(cache[hash], newCacheEntry)
					calls = append(calls, callsEntry{entry, state})
					state = newState
					linearized.set(entry.id)
					lift(entry)
					entry = headEntry.next
				} else {
					entry = entry.next
				}
			} else {
				entry = entry.next
			}
		} else {
			if len(calls) == 0 {
				return false
			}
			top := calls[len(calls)-1]
			entry = top.entry
			state = top.state
			linearized.clear(entry.id)
			calls = calls[:len(calls)-1]
			unlift(entry)
			entry = entry.next
		}
	}
	return true
}

func fillDefault(model Model) Model {
	if model.Partition == nil {
		model.Partition = NoPartition
	}
	if model.PartitionEvent == nil {
		model.PartitionEvent = NoPartitionEvent
	}
	if model.Equal == nil {
		model.Equal = ShallowEqual
	}
	return model
}

// CheckOperations reports whether history admits a linearization under
// model, with no time budget.
func CheckOperations(model Model, history []Operation) bool {
	return CheckOperationsTimeout(model, history, 0)
}

// CheckOperationsTimeout is CheckOperations bounded by timeout; a timeout
// before every partition resolves is reported as linearizable (a false
// positive is possible, a false negative is not — the search only rules
// out linearizability by exhausting the space).
func CheckOperationsTimeout(model Model, history []Operation, timeout time.Duration) bool {
	model = fillDefault(model)
	partitions := model.Partition(history)
	ok := true
	results := make(chan bool)
	kill := int32(0)
	for _, subhistory := range partitions {
		l := makeLinkedEntries(makeEntries(subhistory))
		go func() {
			results <- checkSingle(model, l, &kill)
		}()
	}
	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timeoutChan = time.After(timeout)
	}
	count := 0
loop:
	for {
		select {
		case result := <-results:
			ok = ok && result
			if !ok {
				atomic.StoreInt32(&kill, 1)
				break loop
			}
			count++
			if count >= len(partitions) {
				break loop
			}
		case <-timeoutChan:
			break loop
		}
	}
	return ok
}

// CheckEvents is CheckOperations for a flat call/return event stream
// instead of paired Operations.
func CheckEvents(model Model, history []Event) bool {
	return CheckEventsTimeout(model, history, 0)
}

// CheckEventsTimeout is CheckEvents bounded by timeout.
func CheckEventsTimeout(model Model, history []Event, timeout time.Duration) bool {
	model = fillDefault(model)
	partitions := model.PartitionEvent(history)
	ok := true
	results := make(chan bool)
	kill := int32(0)
	for _, subhistory := range partitions {
		l := makeLinkedEntries(convertEntries(renumber(subhistory)))
		go func() {
			results <- checkSingle(model, l, &kill)
		}()
	}
	var timeoutChan <-chan time.Time
	if timeout > 0 {
		timeoutChan = time.After(timeout)
	}
	count := 0
loop:
	for {
		select {
		case result := <-results:
			ok = ok && result
			if !ok {
				atomic.StoreInt32(&kill, 1)
				break loop
			}
			count++
			if count >= len(partitions) {
				break loop
			}
		case <-timeoutChan:
			break loop
		}
	}
	return ok
}
