package pipeline

import (
	"math/rand"
	"time"
)

// OutcomeKind classifies the result of one stage execution.
type OutcomeKind string

const (
	// OutcomeOK advances the job to the next stage.
	OutcomeOK OutcomeKind = "ok"
	// OutcomeWait postpones the job without consuming a retry. Used while
	// the parser is still working.
	OutcomeWait OutcomeKind = "wait"
	// OutcomeTransient schedules a retry with backoff.
	OutcomeTransient OutcomeKind = "transient"
	// OutcomePermanent dead-letters the job.
	OutcomePermanent OutcomeKind = "permanent"
	// OutcomeLeaseLost stops processing without touching the job; another
	// worker owns it now.
	OutcomeLeaseLost OutcomeKind = "lease_lost"
)

// Outcome is the tagged result of a stage execution. Stage handlers never
// panic for control flow and never return raw errors upward; everything is
// folded into an Outcome.
type Outcome struct {
	Kind  OutcomeKind
	Code  Code
	Err   error
	Delay time.Duration
}

func OK() Outcome                       { return Outcome{Kind: OutcomeOK} }
func Wait(d time.Duration) Outcome      { return Outcome{Kind: OutcomeWait, Delay: d} }
func LeaseLost() Outcome                { return Outcome{Kind: OutcomeLeaseLost, Code: CodeLeaseLost} }
func Transient(c Code, err error) Outcome {
	return Outcome{Kind: OutcomeTransient, Code: c, Err: err}
}
func Permanent(c Code, err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Code: c, Err: err}
}

// RetryPolicy computes retry decisions for failed stage executions.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// Decision is what the worker does with a failed job.
type Decision struct {
	State State
	Code  Code
	Delay time.Duration
}

// Backoff returns the delay before retry n (0-based): base*2^n plus up to
// one base of jitter, capped.
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(p.Base) + 1))
	if d+jitter > p.Cap {
		return p.Cap
	}
	return d + jitter
}

// Decide maps a failure outcome and the job's retry count to a decision.
// retryCount is the number of retries already consumed. Lease reclaims do
// not pass through here and never consume retries.
func (p RetryPolicy) Decide(out Outcome, retryCount int) Decision {
	if out.Kind == OutcomePermanent || !out.Code.Transient() {
		return Decision{State: StateDeadletter, Code: out.Code}
	}
	if retryCount >= p.MaxRetries {
		return Decision{State: StateDeadletter, Code: CodeRetriesExhausted}
	}
	return Decision{
		State: StateRetryable,
		Code:  out.Code,
		Delay: p.Backoff(retryCount),
	}
}
