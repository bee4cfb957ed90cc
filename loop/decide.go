package loop

// DecisionKind is the discriminated union from spec §3.7.
type DecisionKind string

const (
	DecisionContinue    DecisionKind = "continue"
	DecisionComplete    DecisionKind = "complete"
	DecisionInterrupted DecisionKind = "interrupted"
	DecisionFailed      DecisionKind = "failed"
	DecisionCancelled   DecisionKind = "cancelled"
	DecisionTimeout     DecisionKind = "timeout"
)

// Decision is DECIDE's output for one iteration.
type Decision struct {
	Kind            DecisionKind
	Summary         string
	ClarificationID string
	Reason          string
}

// decideInput bundles everything the ordered DECIDE checks need (spec
// §4.1's DECIDE section), kept separate from the live Loop struct so
// the check order itself is a pure, independently testable function.
type decideInput struct {
	Cancelled       bool
	NoToolCalls     bool
	FinishedStop    bool
	Interrupted     bool
	ClarificationID string
	Summary         string
	ErrorCount      int
	MaxErrors       int
	Iteration       int
	MaxIterations   int
}

// decide applies the six ordered checks from spec §4.1 in order,
// returning the first that matches (spec §8 property 4: "exactly one
// of the ordered DECIDE checks fires").
func decide(in decideInput) Decision {
	if in.Cancelled {
		return Decision{Kind: DecisionCancelled, Reason: "cancellation signalled"}
	}
	if in.NoToolCalls && in.FinishedStop {
		return Decision{Kind: DecisionComplete, Summary: in.Summary, Reason: "no tool calls, finish reason stop"}
	}
	if in.Interrupted {
		return Decision{Kind: DecisionInterrupted, ClarificationID: in.ClarificationID, Reason: "clarification interrupt"}
	}
	if in.MaxErrors > 0 && in.ErrorCount >= in.MaxErrors {
		return Decision{Kind: DecisionFailed, Reason: "error count reached maxErrors"}
	}
	if in.Iteration >= in.MaxIterations {
		return Decision{Kind: DecisionTimeout, Reason: "iteration reached maxIterations"}
	}
	return Decision{Kind: DecisionContinue, Reason: "none of the terminal checks matched"}
}
