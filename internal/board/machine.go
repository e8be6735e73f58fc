package board

import "fmt"

// State is a position in the lifecycle of one board move.
type State string

const (
	StateIdle                State = "idle"
	StatePendingConfirmation State = "pending_confirmation"
	StateInFlight            State = "in_flight"
	StateCommitted           State = "committed"
	StateRolledBack          State = "rolled_back"
)

type Event string

const (
	EventDrop      Event = "drop"
	EventNoop      Event = "noop"
	EventDenied    Event = "denied"
	EventRejected  Event = "rejected"
	EventBusy      Event = "busy"
	EventConfirmed Event = "confirmed"
	EventDeclined  Event = "declined"
	EventSucceeded Event = "succeeded"
	EventFailed    Event = "failed"
)

var steps = map[State]map[Event]State{
	StateIdle: {
		EventDrop:     StatePendingConfirmation,
		EventNoop:     StateIdle,
		EventDenied:   StateIdle,
		EventRejected: StateIdle,
		EventBusy:     StateIdle,
	},
	StatePendingConfirmation: {
		EventConfirmed: StateInFlight,
		EventDeclined:  StateIdle,
	},
	StateInFlight: {
		EventSucceeded: StateCommitted,
		EventFailed:    StateRolledBack,
	},
}

// Step returns the state reached from s on e. Committed and rolled back are
// final and accept no events.
func Step(s State, e Event) (State, error) {
	next, ok := steps[s][e]
	if !ok {
		return s, fmt.Errorf("board: event %s not allowed in state %s", e, s)
	}
	return next, nil
}

// Result is how a move ended.
type Result string

const (
	ResultNoop       Result = "noop"
	ResultDenied     Result = "denied"
	ResultRejected   Result = "rejected"
	ResultBusy       Result = "busy"
	ResultDeclined   Result = "declined"
	ResultCommitted  Result = "committed"
	ResultRolledBack Result = "rolled_back"
)

var eventResults = map[Event]Result{
	EventNoop:      ResultNoop,
	EventDenied:    ResultDenied,
	EventRejected:  ResultRejected,
	EventBusy:      ResultBusy,
	EventDeclined:  ResultDeclined,
	EventSucceeded: ResultCommitted,
	EventFailed:    ResultRolledBack,
}

// Outcome describes a finished move. Trail lists every state visited,
// starting with idle.
type Outcome struct {
	RequestID string
	From      string
	To        string
	State     State
	Result    Result
	Trail     []State
}

func newOutcome(requestID, from, to string) *Outcome {
	return &Outcome{RequestID: requestID, From: from, To: to, State: StateIdle, Trail: []State{StateIdle}}
}

// fire advances the outcome. The synchronizer only fires events its own
// control flow allows, so a refused step is a programming error.
func (o *Outcome) fire(e Event) {
	next, err := Step(o.State, e)
	if err != nil {
		panic(err)
	}
	o.State = next
	o.Trail = append(o.Trail, next)
	if r, ok := eventResults[e]; ok {
		o.Result = r
	}
}
