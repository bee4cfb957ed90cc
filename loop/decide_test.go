package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide_CancellationWinsOverEverything(t *testing.T) {
	d := decide(decideInput{Cancelled: true, ErrorCount: 10, MaxErrors: 3, Iteration: 99, MaxIterations: 5})
	assert.Equal(t, DecisionCancelled, d.Kind)
}

func TestDecide_NoToolCallsAndStopIsComplete(t *testing.T) {
	d := decide(decideInput{NoToolCalls: true, FinishedStop: true, Summary: "done"})
	assert.Equal(t, DecisionComplete, d.Kind)
	assert.Equal(t, "done", d.Summary)
}

func TestDecide_InterruptBeatsErrorAndIterationChecks(t *testing.T) {
	d := decide(decideInput{Interrupted: true, ClarificationID: "c1", ErrorCount: 10, MaxErrors: 3, Iteration: 99, MaxIterations: 5})
	assert.Equal(t, DecisionInterrupted, d.Kind)
	assert.Equal(t, "c1", d.ClarificationID)
}

func TestDecide_MaxErrorsReachedIsFailed(t *testing.T) {
	d := decide(decideInput{ErrorCount: 3, MaxErrors: 3, Iteration: 1, MaxIterations: 10})
	assert.Equal(t, DecisionFailed, d.Kind)
}

func TestDecide_MaxIterationsReachedIsTimeout(t *testing.T) {
	d := decide(decideInput{ErrorCount: 0, MaxErrors: 3, Iteration: 10, MaxIterations: 10})
	assert.Equal(t, DecisionTimeout, d.Kind)
}

func TestDecide_DefaultIsContinue(t *testing.T) {
	d := decide(decideInput{ErrorCount: 0, MaxErrors: 3, Iteration: 2, MaxIterations: 10})
	assert.Equal(t, DecisionContinue, d.Kind)
}

func TestDecide_ErrorsBeatIterationWhenBothThresholdsHit(t *testing.T) {
	d := decide(decideInput{ErrorCount: 3, MaxErrors: 3, Iteration: 10, MaxIterations: 10})
	assert.Equal(t, DecisionFailed, d.Kind)
}
