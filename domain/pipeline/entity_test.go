package pipeline

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageChain_Order(t *testing.T) {
	want := []Stage{
		StageQueued,
		StageJobValidated,
		StageParsing,
		StageParsed,
		StageParseValidated,
		StageChunking,
		StageChunksBuffered,
		StageChunked,
		StageEmbedding,
		StageEmbeddingsBuffered,
		StageEmbedded,
	}

	assert.Equal(t, want, StageChain())
}

func TestStage_Next(t *testing.T) {
	chain := StageChain()
	for i := 0; i < len(chain)-1; i++ {
		next, ok := chain[i].Next()
		require.True(t, ok, "%q.Next()", chain[i])
		assert.Equal(t, chain[i+1], next, "%q.Next()", chain[i])
	}

	_, ok := StageEmbedded.Next()
	assert.False(t, ok, "terminal stage should have no next")
	_, ok = Stage("bogus").Next()
	assert.False(t, ok, "unknown stage should have no next")
}

func TestStage_Progress(t *testing.T) {
	tests := []struct {
		stage Stage
		want  int
	}{
		{StageQueued, 0},
		{StageJobValidated, 10},
		{StageParsing, 20},
		{StageParsed, 30},
		{StageParseValidated, 35},
		{StageChunking, 45},
		{StageChunksBuffered, 50},
		{StageChunked, 55},
		{StageEmbedding, 70},
		{StageEmbeddingsBuffered, 75},
		{StageEmbedded, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.stage.Progress(), "%q.Progress()", tt.stage)
	}

	// Progress must be strictly increasing along the chain.
	chain := StageChain()
	for i := 1; i < len(chain); i++ {
		assert.Greater(t, chain[i].Progress(), chain[i-1].Progress(),
			"progress not increasing: %q -> %q", chain[i-1], chain[i])
	}
}

func TestStage_Terminal(t *testing.T) {
	for _, s := range StageChain() {
		assert.Equal(t, s == StageEmbedded, s.Terminal(), "%q.Terminal()", s)
	}
}

func TestStage_Valid(t *testing.T) {
	for _, s := range StageChain() {
		assert.True(t, s.Valid(), "%q should be valid", s)
	}
	assert.False(t, Stage("parsing2").Valid())
}

func TestState_Valid(t *testing.T) {
	valid := []State{StateQueued, StateWorking, StateRetryable, StateDone, StateDeadletter}
	for _, st := range valid {
		assert.True(t, st.Valid(), "%q should be valid", st)
	}
	assert.False(t, State("pending").Valid())
}

func TestState_Terminal(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateQueued, false},
		{StateWorking, false},
		{StateRetryable, false},
		{StateDone, true},
		{StateDeadletter, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.Terminal(), "%q.Terminal()", tt.state)
	}
}

func TestJob_Live(t *testing.T) {
	j := &Job{State: StateRetryable}
	assert.True(t, j.Live(), "retryable job should be live")
	j.State = StateDeadletter
	assert.False(t, j.Live(), "dead-lettered job should not be live")
}

func TestJobError_ScanRoundTrip(t *testing.T) {
	orig := JobError{
		Code:    CodeParserTimeout,
		Message: "parse exceeded stage budget",
		At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	val, err := orig.Value()
	require.NoError(t, err)

	var scanned JobError
	require.NoError(t, scanned.Scan(val))

	assert.Equal(t, orig.Code, scanned.Code)
	assert.Equal(t, orig.Message, scanned.Message)
	assert.True(t, scanned.At.Equal(orig.At), "At = %v, want %v", scanned.At, orig.At)

	var fromNil JobError
	assert.NoError(t, fromNil.Scan(nil))
}

func TestJob_ToDTO(t *testing.T) {
	id := uuid.New()
	docID := uuid.New()
	j := &Job{
		ID:            id,
		DocumentID:    docID,
		Stage:         StageChunked,
		State:         StateWorking,
		RetryCount:    2,
		CorrelationID: "corr-1",
	}

	dto := j.ToDTO()
	assert.Equal(t, id.String(), dto.ID)
	assert.Equal(t, docID.String(), dto.DocumentID)
	assert.Equal(t, 55, dto.ProgressPercent)
	assert.Equal(t, 2, dto.RetryCount)
}
