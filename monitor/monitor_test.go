package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateToolResult_ValidWhenNoIssues(t *testing.T) {
	snapshot := StateSnapshot{IDs: map[string]bool{"r1": true}, Fields: map[string]string{"count": "1"}}
	result := ValidateToolResult(ToolResult{
		ReferencedIDs: []string{"r1"},
		Fields:        map[string]string{"count": "1"},
	}, snapshot)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
}

func TestValidateToolResult_InvalidID(t *testing.T) {
	snapshot := StateSnapshot{IDs: map[string]bool{"r1": true}}
	result := ValidateToolResult(ToolResult{ReferencedIDs: []string{"r1", "r2"}}, snapshot)

	require.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueInvalidID, result.Issues[0].Type)
	assert.Equal(t, "r2", result.Issues[0].Claimed)
}

func TestValidateToolResult_StaleState(t *testing.T) {
	snapshot := StateSnapshot{Fields: map[string]string{"elementCount": "3"}}
	result := ValidateToolResult(ToolResult{Fields: map[string]string{"elementCount": "5"}}, snapshot)

	require.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueStaleState, result.Issues[0].Type)
}

func TestMonitor_DetectErrorLoop_TriggersAtThreshold(t *testing.T) {
	m := New(50, 3)

	assert.Nil(t, m.DetectErrorLoop("E42", "create_shape"))
	assert.Nil(t, m.DetectErrorLoop("E42", "create_shape"))
	res := m.DetectErrorLoop("E42", "create_shape")

	require.NotNil(t, res)
	assert.True(t, res.Detected)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, "E42", res.Message)
}

func TestMonitor_DetectErrorLoop_DifferentScopesDoNotMix(t *testing.T) {
	m := New(50, 3)
	m.DetectErrorLoop("E42", "create_shape")
	m.DetectErrorLoop("E42", "delete_shape")
	res := m.DetectErrorLoop("E42", "create_shape")

	assert.Nil(t, res)
}

func TestMonitor_DetectErrorLoop_BreaksOnDifferentMessage(t *testing.T) {
	m := New(50, 3)
	m.DetectErrorLoop("E42", "create_shape")
	m.DetectErrorLoop("E99", "create_shape")
	res := m.DetectErrorLoop("E42", "create_shape")

	assert.Nil(t, res)
}

func TestMonitor_PendingCorrections(t *testing.T) {
	m := New(50, 3)

	_, ok := m.PopPendingCorrections()
	assert.False(t, ok)

	m.AddInvalidIdCorrection("r9")
	m.AddRepeatedErrorCorrection("create_shape", 3)

	text, ok := m.PopPendingCorrections()
	require.True(t, ok)
	assert.Contains(t, text, "r9")
	assert.Contains(t, text, "create_shape")

	_, ok = m.PopPendingCorrections()
	assert.False(t, ok, "corrections must be cleared after popping")
}

func TestComputeStalenessReport_Levels(t *testing.T) {
	cases := []struct {
		age       time.Duration
		wantLevel StalenessLevel
		canResume bool
	}{
		{30 * time.Minute, StalenessLow, true},
		{12 * time.Hour, StalenessMedium, true},
		{3 * 24 * time.Hour, StalenessHigh, true},
		{10 * 24 * time.Hour, StalenessCritical, false},
	}

	for _, tc := range cases {
		report := ComputeStalenessReport(tc.age, nil)
		assert.Equal(t, tc.wantLevel, report.Level)
		assert.Equal(t, tc.canResume, report.CanResume)
	}
}

func TestComputeStalenessReport_CriticalCannotResumeEvenWithoutContradictions(t *testing.T) {
	report := ComputeStalenessReport(30*24*time.Hour, nil)
	assert.False(t, report.CanResume)
}
