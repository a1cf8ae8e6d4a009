package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 5,
		Base:       2 * time.Second,
		Cap:        60 * time.Second,
	}

	// Backoff is base*2^n plus up to one base of jitter, capped.
	for n := 0; n < 10; n++ {
		min := p.Base
		for i := 0; i < n; i++ {
			min *= 2
			if min >= p.Cap {
				min = p.Cap
				break
			}
		}
		max := min + p.Base
		if max > p.Cap {
			max = p.Cap
		}

		for trial := 0; trial < 20; trial++ {
			d := p.Backoff(n)
			assert.GreaterOrEqual(t, d, min, "Backoff(%d)", n)
			assert.LessOrEqual(t, d, max, "Backoff(%d)", n)
		}
	}
}

func TestRetryPolicy_Backoff_NegativeRetry(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Cap: time.Minute}
	d := p.Backoff(-1)
	assert.GreaterOrEqual(t, d, p.Base)
	assert.LessOrEqual(t, d, 2*p.Base)
}

func TestRetryPolicy_Backoff_CappedAtCap(t *testing.T) {
	p := RetryPolicy{Base: 10 * time.Second, Cap: 30 * time.Second}
	for trial := 0; trial < 20; trial++ {
		assert.LessOrEqual(t, p.Backoff(50), p.Cap)
	}
}

func TestRetryPolicy_Decide(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, Base: time.Second, Cap: time.Minute}
	errBoom := errors.New("boom")

	t.Run("transient with retries left schedules retry", func(t *testing.T) {
		d := p.Decide(Transient(CodeParserTimeout, errBoom), 0)
		assert.Equal(t, StateRetryable, d.State)
		assert.Equal(t, CodeParserTimeout, d.Code)
		assert.Positive(t, d.Delay)
	})

	t.Run("transient with retries exhausted dead-letters", func(t *testing.T) {
		d := p.Decide(Transient(CodeStorageUnavailable, errBoom), 3)
		assert.Equal(t, StateDeadletter, d.State)
		assert.Equal(t, CodeRetriesExhausted, d.Code)
	})

	t.Run("permanent dead-letters immediately", func(t *testing.T) {
		d := p.Decide(Permanent(CodeHashMismatch, errBoom), 0)
		assert.Equal(t, StateDeadletter, d.State)
		assert.Equal(t, CodeHashMismatch, d.Code)
	})

	t.Run("permanent code marked transient still dead-letters", func(t *testing.T) {
		// A handler bug could tag a permanent code onto a transient outcome;
		// the code classification wins.
		d := p.Decide(Outcome{Kind: OutcomeTransient, Code: CodeInputInvalid, Err: errBoom}, 0)
		assert.Equal(t, StateDeadletter, d.State)
	})
}
