package pipeline

// State is the lifecycle of one conversion job.
type State string

const (
	StateReceived     State = "received"
	StateAuthorized   State = "authorized"
	StateTranscribing State = "transcribing"
	StateFormatting   State = "formatting"
	StateEnhancing    State = "enhancing"
	StateRendering    State = "rendering"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

// sequence is the forward path; Failed is reachable from every state.
var sequence = []State{
	StateReceived,
	StateAuthorized,
	StateTranscribing,
	StateFormatting,
	StateEnhancing,
	StateRendering,
	StateCompleted,
}

var sequenceIndex = func() map[State]int {
	idx := make(map[State]int, len(sequence))
	for i, st := range sequence {
		idx[st] = i
	}
	return idx
}()

// CanTransition reports whether moving from one state to the next is legal:
// one step forward along the sequence, or into Failed from anywhere but a
// terminal state.
func CanTransition(from, to State) bool {
	if from == StateCompleted || from == StateFailed {
		return false
	}
	if to == StateFailed {
		_, known := sequenceIndex[from]
		return known
	}
	fi, fok := sequenceIndex[from]
	ti, tok := sequenceIndex[to]
	return fok && tok && ti == fi+1
}
