package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_Taxonomy(t *testing.T) {
	tests := []struct {
		code      Code
		transient bool
	}{
		{CodeInputInvalid, false},
		{CodeParserFailed, false},
		{CodeParserTimeout, true},
		{CodeParserRateLimited, true},
		{CodeEmbedRateLimited, true},
		{CodeEmbedDimMismatch, false},
		{CodeEmbedLengthMismatch, false},
		{CodeHashMismatch, false},
		{CodeStorageUnavailable, true},
		{CodeDBConflict, true},
		{CodeLeaseLost, false},
		{CodeRetriesExhausted, false},
	}

	for _, tt := range tests {
		assert.True(t, tt.code.Valid(), "%q should be valid", tt.code)
		assert.Equal(t, tt.transient, tt.code.Transient(), "%q.Transient()", tt.code)
	}

	// The taxonomy is closed: the table above must cover every code.
	assert.Len(t, Codes(), len(tests))
}

func TestCode_Unknown(t *testing.T) {
	assert.False(t, Code("network_error").Valid())
	assert.False(t, Code("network_error").Transient())
	assert.False(t, Code("").Valid())
}
