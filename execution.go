package sagaflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a saga execution.
type Status int8

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompensating
	StatusCommitted
	StatusAborted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompensating:
		return "compensating"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int8(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted || s == StatusFailed
}

// validTransitions is the full status machine. Anything not listed here is
// a framework bug, not a caller error.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusRunning},
	StatusRunning:      {StatusCommitted, StatusCompensating},
	StatusCompensating: {StatusAborted, StatusFailed},
}

// StepStatus is the state of an individual step within an execution.
type StepStatus int8

const (
	StepPending StepStatus = iota
	StepRunning
	StepCompleted
	StepFailed
	StepCompensating
	StepCompensated
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	case StepCompensating:
		return "compensating"
	case StepCompensated:
		return "compensated"
	default:
		return fmt.Sprintf("StepStatus(%d)", int8(s))
	}
}

// StepRecord is the observable state of one step.
type StepRecord struct {
	StepID     string
	Name       string
	Status     StepStatus
	Attempts   int
	Output     any
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Metrics is a point-in-time summary of an execution.
type Metrics struct {
	ExecutionID      string
	SagaID           string
	Status           Status
	StepsTotal       int
	StepsCompleted   int
	StepsFailed      int
	StepsCompensated int
	RetriesTotal     int
	DurationMS       int64
}

// ExecutionSnapshot is a consistent copy of an execution's state.
type ExecutionSnapshot struct {
	ExecutionID  string
	SagaID       string
	Status       Status
	Steps        []StepRecord
	Result       any
	Err          error
	StartedAt    time.Time
	FinishedAt   time.Time
	CancelReason string
}

// Execution is a single run of a saga definition. All mutation happens on
// the orchestrator's drive goroutine; readers take consistent snapshots.
type Execution struct {
	id  string
	def *SagaDefinition
	tc  *TransactionContext

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	status       Status
	records      []*StepRecord
	byStep       map[string]*StepRecord
	compStack    []compensationEntry
	cancelled    bool
	cancelReason string
	result       any
	err          error
	startedAt    time.Time
	finishedAt   time.Time

	done chan struct{}
}

func newExecution(def *SagaDefinition, tc *TransactionContext, ctx context.Context, cancel context.CancelFunc, order []*Step) *Execution {
	ex := &Execution{
		id:        tc.ExecutionID,
		def:       def,
		tc:        tc,
		ctx:       ctx,
		cancel:    cancel,
		status:    StatusPending,
		byStep:    make(map[string]*StepRecord, len(order)),
		startedAt: tc.StartedAt,
		done:      make(chan struct{}),
	}
	for _, step := range order {
		rec := &StepRecord{StepID: step.ID, Name: step.Name, Status: StepPending}
		ex.records = append(ex.records, rec)
		ex.byStep[step.ID] = rec
	}
	return ex
}

// ID is the unique identifier of this execution.
func (ex *Execution) ID() string { return ex.id }

// SagaID is the identifier of the definition this execution runs.
func (ex *Execution) SagaID() string { return ex.def.ID }

// Status returns the current lifecycle status.
func (ex *Execution) Status() Status {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.status
}

// Done returns a channel closed when the execution reaches a terminal
// status.
func (ex *Execution) Done() <-chan struct{} { return ex.done }

// Wait blocks until the execution terminates or ctx is cancelled, then
// returns the final result and error.
func (ex *Execution) Wait(ctx context.Context) (any, error) {
	select {
	case <-ex.done:
		return ex.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the committed result, or the error the execution
// terminated with. Calling it before the execution terminates returns the
// state observed at that moment.
func (ex *Execution) Result() (any, error) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.result, ex.err
}

// Snapshot returns a consistent copy of the execution's state.
func (ex *Execution) Snapshot() ExecutionSnapshot {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	snap := ExecutionSnapshot{
		ExecutionID:  ex.id,
		SagaID:       ex.def.ID,
		Status:       ex.status,
		Result:       ex.result,
		Err:          ex.err,
		StartedAt:    ex.startedAt,
		FinishedAt:   ex.finishedAt,
		CancelReason: ex.cancelReason,
	}
	snap.Steps = make([]StepRecord, len(ex.records))
	for i, rec := range ex.records {
		snap.Steps[i] = *rec
	}
	return snap
}

// Metrics computes a summary from the current state. It is recomputed on
// every call rather than maintained incrementally.
func (ex *Execution) Metrics() Metrics {
	ex.mu.RLock()
	defer ex.mu.RUnlock()

	m := Metrics{
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Status:      ex.status,
		StepsTotal:  len(ex.records),
	}
	for _, rec := range ex.records {
		m.RetriesTotal += max(rec.Attempts-1, 0)
		switch rec.Status {
		case StepCompleted:
			m.StepsCompleted++
		case StepFailed:
			m.StepsFailed++
		case StepCompensated:
			m.StepsCompensated++
		}
	}
	if ex.finishedAt.IsZero() {
		m.DurationMS = time.Since(ex.startedAt).Milliseconds()
	} else {
		m.DurationMS = ex.finishedAt.Sub(ex.startedAt).Milliseconds()
	}
	return m
}

// transition moves the execution to next, panicking on an illegal move.
func (ex *Execution) transition(next Status) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	for _, allowed := range validTransitions[ex.status] {
		if allowed == next {
			ex.status = next
			if next.Terminal() {
				ex.finishedAt = time.Now().UTC()
			}
			return
		}
	}
	panic(fmt.Sprintf("illegal status transition %s -> %s: this is a bug in the framework", ex.status, next))
}

// requestCancel flags the execution for cooperative cancellation. It is a
// no-op during compensation and returns ErrAlreadyCompleted once the
// execution has terminated.
func (ex *Execution) requestCancel(reason string) error {
	ex.mu.Lock()
	if ex.status.Terminal() {
		ex.mu.Unlock()
		return fmt.Errorf("%w: execution %s is %s", ErrAlreadyCompleted, ex.id, ex.status)
	}
	if ex.status == StatusCompensating {
		// Unwinding already; the cancel has nothing left to interrupt.
		ex.mu.Unlock()
		return nil
	}
	if !ex.cancelled {
		ex.cancelled = true
		ex.cancelReason = reason
	}
	ex.mu.Unlock()
	ex.cancel()
	return nil
}

func (ex *Execution) cancelRequested() (bool, string) {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.cancelled, ex.cancelReason
}

func (ex *Execution) markStepRunning(stepID string) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	rec := ex.byStep[stepID]
	rec.Status = StepRunning
	rec.StartedAt = time.Now().UTC()
}

func (ex *Execution) markStepCompleted(stepID string, attempts int, output any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	rec := ex.byStep[stepID]
	rec.Status = StepCompleted
	rec.Attempts = attempts
	rec.Output = output
	rec.FinishedAt = time.Now().UTC()
}

func (ex *Execution) markStepFailed(stepID string, attempts int, err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	rec := ex.byStep[stepID]
	rec.Status = StepFailed
	rec.Attempts = attempts
	rec.Err = err
	rec.FinishedAt = time.Now().UTC()
}

// markStepStatus is the hook the compensation coordinator uses to report
// progress during an unwind.
func (ex *Execution) markStepStatus(stepID string, status StepStatus) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	rec := ex.byStep[stepID]
	rec.Status = status
	if status == StepCompensated || status == StepFailed {
		rec.FinishedAt = time.Now().UTC()
	}
}

// pushCompensation records a completed step so it can be unwound later.
func (ex *Execution) pushCompensation(step *Step, output any) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.compStack = append(ex.compStack, compensationEntry{step: step, output: output})
}

func (ex *Execution) compensationStack() []compensationEntry {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	stack := make([]compensationEntry, len(ex.compStack))
	copy(stack, ex.compStack)
	return stack
}

// finish records the terminal outcome and releases waiters.
func (ex *Execution) finish(result any, err error) {
	ex.mu.Lock()
	ex.result = result
	ex.err = err
	ex.mu.Unlock()
	ex.cancel()
	close(ex.done)
}
