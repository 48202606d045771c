package linearizability

// KVInput is the input to a single GET or PUT operation recorded against
// the cluster under test.
type KVInput struct {
	Op    uint8 // 0 => get, 1 => put
	Key   string
	Value string // only meaningful for put
}

// KVOutput is the observed response to a KVInput.
type KVOutput struct {
	Value string // the value returned by a get; ignored for put
}

const (
	opGet uint8 = 0
	opPut uint8 = 1
)

// GetPutModel is the linearizability model for this system's command set:
// GET and PUT only (spec.md §3 — append is not a command this system
// speaks, unlike the teacher's three-op KvModel). Partitioning by key
// lets each key's history be checked independently, since a PUT on one
// key can never be ordered relative to a GET on another.
func GetPutModel() Model {
	return Model{
		Partition: func(history []Operation) [][]Operation {
			byKey := make(map[string][]Operation)
			for _, op := range history {
				key := op.Input.(KVInput).Key
				byKey[key] = append(byKey[key], op)
			}
			partitions := make([][]Operation, 0, len(byKey))
			for _, ops := range byKey {
				partitions = append(partitions, ops)
			}
			return partitions
		},
		Init: func() interface{} {
			// Per-key partitioning means each partition's initial state is
			// just that one key's value; a missing key reads as "".
			return ""
		},
		Step: func(state, input, output interface{}) (bool, interface{}) {
			in := input.(KVInput)
			out := output.(KVOutput)
			current := state.(string)
			switch in.Op {
			case opGet:
				return out.Value == current, state
			case opPut:
				return true, in.Value
			default:
				return false, state
			}
		},
		Equal: ShallowEqual,
	}
}
