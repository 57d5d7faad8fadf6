package sagaflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	uberatomic "go.uber.org/atomic"
)

const (
	defaultCompensationTimeout = 30 * time.Second
	defaultEventBuffer         = 64
)

// Config configures an Orchestrator. The zero value is usable: unset fields
// fall back to defaults.
type Config struct {
	// Logger, when nil, falls back to a no-op logger.
	Logger *zerolog.Logger

	// DefaultRetry applies to steps without their own policy.
	DefaultRetry RetryPolicy

	// DefaultStepTimeout applies to steps without their own timeout. Zero
	// means no timeout.
	DefaultStepTimeout time.Duration

	// CompensationTimeout bounds each compensation handler invocation.
	CompensationTimeout time.Duration

	// EventBuffer sizes the lifecycle event channel. Events are dropped,
	// never blocked on, when the buffer is full.
	EventBuffer int

	// PersistenceSink, when set, receives every transaction log entry.
	PersistenceSink PersistenceSink

	// EventSink, when set, receives lifecycle events on a dedicated
	// goroutine.
	EventSink EventSink
}

// Orchestrator owns saga definitions and drives their executions. Each
// started saga runs on its own goroutine; the orchestrator tracks them all
// until Close.
type Orchestrator struct {
	registry    *DefinitionRegistry
	txlog       *TransactionLog
	executor    *stepExecutor
	compensator *compensationCoordinator
	logger      zerolog.Logger

	executions *xsync.MapOf[string, *Execution]

	events    chan Event
	eventSink EventSink
	dropped   uberatomic.Int64

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     uberatomic.Bool
	driveWG    sync.WaitGroup
	pumpWG     sync.WaitGroup
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.DefaultRetry.MaxAttempts == 0 {
		cfg.DefaultRetry = DefaultRetryPolicy()
	}
	if cfg.CompensationTimeout <= 0 {
		cfg.CompensationTimeout = defaultCompensationTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	txlog := NewTransactionLog(cfg.PersistenceSink, logger)
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		registry: NewDefinitionRegistry(logger),
		txlog:    txlog,
		executor: &stepExecutor{
			txlog:          txlog,
			logger:         logger,
			defaultRetry:   cfg.DefaultRetry,
			defaultTimeout: cfg.DefaultStepTimeout,
		},
		compensator: &compensationCoordinator{
			txlog:   txlog,
			logger:  logger,
			timeout: cfg.CompensationTimeout,
		},
		logger:     logger,
		executions: xsync.NewMapOf[string, *Execution](),
		events:     make(chan Event, cfg.EventBuffer),
		eventSink:  cfg.EventSink,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	if o.eventSink != nil {
		o.pumpWG.Add(1)
		go o.pump()
	}
	return o
}

// pump delivers buffered lifecycle events to the sink, in order, until the
// events channel is closed.
func (o *Orchestrator) pump() {
	defer o.pumpWG.Done()
	for ev := range o.events {
		o.eventSink.HandleEvent(ev)
	}
}

// emit publishes a lifecycle event without blocking. When the buffer is
// full the event is counted as dropped.
func (o *Orchestrator) emit(ev Event) {
	if o.eventSink == nil {
		return
	}
	select {
	case o.events <- ev:
	default:
		o.dropped.Inc()
		o.logger.Warn().
			Str("event_type", string(ev.Type)).
			Str("execution_id", ev.ExecutionID).
			Msg("event buffer full, dropping event")
	}
}

// DroppedEvents reports how many lifecycle events were dropped because the
// buffer was full.
func (o *Orchestrator) DroppedEvents() int64 { return o.dropped.Load() }

// RegisterSaga validates def and adds it to the registry, replacing any
// definition with the same ID.
func (o *Orchestrator) RegisterSaga(def *SagaDefinition) error {
	return o.registry.Register(def)
}

// StartSaga launches an asynchronous execution of the named definition and
// returns a handle immediately. The input must match the definition's step
// input type.
func (o *Orchestrator) StartSaga(definitionID string, input any, overrides ContextOverrides) (*Execution, error) {
	if o.closed.Load() {
		return nil, fmt.Errorf("%w: orchestrator is closed", ErrClosed)
	}

	def, err := o.registry.Lookup(definitionID)
	if err != nil {
		return nil, err
	}
	if err := def.checkInput(input); err != nil {
		return nil, err
	}
	order, err := def.executionOrder()
	if err != nil {
		// Register validated the graph; a cycle here means the registry
		// handed back something it never checked.
		panic(fmt.Sprintf("registered definition %q has an invalid graph: this is a bug in the framework", definitionID))
	}

	tc := newTransactionContext(def.ID, overrides)

	deadline := overrides.Deadline
	if deadline.IsZero() && def.Deadline > 0 {
		deadline = tc.StartedAt.Add(def.Deadline)
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if deadline.IsZero() {
		ctx, cancel = context.WithCancel(o.baseCtx)
	} else {
		ctx, cancel = context.WithDeadline(o.baseCtx, deadline)
		tc.Deadline = deadline
	}

	ex := newExecution(def, tc, ctx, cancel, order)
	o.executions.Store(ex.id, ex)

	o.driveWG.Add(1)
	go o.drive(ex, order, input)
	return ex, nil
}

// drive runs the execution to a terminal status: forward through the
// ordered steps, then either commit or unwind.
func (o *Orchestrator) drive(ex *Execution, order []*Step, input any) {
	defer o.driveWG.Done()

	ex.transition(StatusRunning)
	o.txlog.Append(ex.id, LevelInfo, "saga started", "", map[string]any{"saga_id": ex.def.ID})
	o.logger.Info().
		Str("execution_id", ex.id).
		Str("saga_id", ex.def.ID).
		Int("steps", len(order)).
		Msg("saga started")
	o.emit(Event{
		Type:        EventStarted,
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Timestamp:   time.Now().UTC(),
	})

	for _, step := range order {
		if cancelled, reason := ex.cancelRequested(); cancelled {
			o.abort(ex, reason)
			return
		}
		if err := ex.ctx.Err(); err != nil {
			o.abort(ex, err.Error())
			return
		}

		ex.markStepRunning(step.ID)
		output, attempts, err := o.executor.run(ex.ctx, step, input, ex.tc)
		if err != nil {
			if cancelled, reason := ex.cancelRequested(); cancelled {
				ex.markStepFailed(step.ID, attempts, err)
				o.abort(ex, reason)
				return
			}
			ex.markStepFailed(step.ID, attempts, err)
			o.failAndCompensate(ex, step, err)
			return
		}

		ex.markStepCompleted(step.ID, attempts, output)
		ex.tc.setOutput(step.ID, output)
		ex.pushCompensation(step, output)

		o.txlog.Append(ex.id, LevelInfo, "step completed", step.ID,
			map[string]any{"attempts": attempts})
		o.emit(Event{
			Type:        EventStepCompleted,
			ExecutionID: ex.id,
			SagaID:      ex.def.ID,
			Timestamp:   time.Now().UTC(),
			Payload:     map[string]any{"step_id": step.ID, "attempts": attempts},
		})
	}

	if cancelled, reason := ex.cancelRequested(); cancelled {
		o.abort(ex, reason)
		return
	}

	ex.transition(StatusCommitted)
	result := o.commitResult(ex, order)
	o.txlog.Append(ex.id, LevelInfo, "saga committed", "", nil)
	o.logger.Info().Str("execution_id", ex.id).Msg("saga committed")
	o.emit(Event{
		Type:        EventCommitted,
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Timestamp:   time.Now().UTC(),
	})
	ex.finish(result, nil)
}

// commitResult is the committed value: the single step's output when the
// saga has one step, otherwise a map keyed by step ID.
func (o *Orchestrator) commitResult(ex *Execution, order []*Step) any {
	if len(order) == 1 {
		out, _ := ex.tc.Output(order[0].ID)
		return out
	}
	result := make(map[string]any, len(order))
	for _, step := range order {
		out, _ := ex.tc.Output(step.ID)
		result[step.ID] = out
	}
	return result
}

// failAndCompensate unwinds after a step exhausted its retries. The
// execution always terminates failed; compensation failures are folded into
// the final error for operator attention but the unwind itself never alters
// the terminal status.
func (o *Orchestrator) failAndCompensate(ex *Execution, step *Step, stepErr error) {
	o.txlog.Append(ex.id, LevelError, "step failed", step.ID,
		map[string]any{"error": stepErr.Error()})
	o.logger.Error().
		Str("execution_id", ex.id).
		Str("step_id", step.ID).
		Err(stepErr).
		Msg("step failed, compensating")
	o.emit(Event{
		Type:        EventStepFailed,
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Timestamp:   time.Now().UTC(),
		Payload:     map[string]any{"step_id": step.ID, "error": stepErr.Error()},
	})

	ex.transition(StatusCompensating)
	report := o.compensator.unwind(ex.tc, ex.compensationStack(), ex.markStepStatus)
	o.emitCompensated(ex, report)

	finalErr := stepErr
	if report.Err != nil {
		finalErr = fmt.Errorf("%w; compensation incomplete: %w", stepErr, report.Err)
	}
	ex.transition(StatusFailed)
	o.txlog.Append(ex.id, LevelError, "saga failed", "",
		map[string]any{"error": finalErr.Error()})
	o.emitTerminal(ex, EventFailed, finalErr)
	ex.finish(nil, finalErr)
}

// abort unwinds after a cancellation or deadline and terminates the
// execution aborted. As with a step failure, compensation failures surface
// in the final error, not the status.
func (o *Orchestrator) abort(ex *Execution, reason string) {
	o.txlog.Append(ex.id, LevelWarn, "saga cancelled", "",
		map[string]any{"reason": reason})
	o.logger.Warn().
		Str("execution_id", ex.id).
		Str("reason", reason).
		Msg("saga cancelled, compensating")

	ex.transition(StatusCompensating)
	report := o.compensator.unwind(ex.tc, ex.compensationStack(), ex.markStepStatus)
	o.emitCompensated(ex, report)

	finalErr := fmt.Errorf("%w: %s", ErrAborted, reason)
	if report.Err != nil {
		finalErr = fmt.Errorf("%w; compensation incomplete: %w", finalErr, report.Err)
	}
	ex.transition(StatusAborted)
	o.txlog.Append(ex.id, LevelWarn, "saga aborted", "",
		map[string]any{"reason": reason})
	o.emitTerminal(ex, EventAborted, finalErr)
	ex.finish(nil, finalErr)
}

func (o *Orchestrator) emitCompensated(ex *Execution, report CompensationReport) {
	o.emit(Event{
		Type:        EventCompensated,
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Timestamp:   time.Now().UTC(),
		Payload: map[string]any{
			"attempted":   report.Attempted,
			"compensated": report.Compensated,
			"failed":      report.Failed,
		},
	})
}

func (o *Orchestrator) emitTerminal(ex *Execution, typ EventType, err error) {
	payload := map[string]any{}
	if err != nil {
		payload["error"] = err.Error()
	}
	o.emit(Event{
		Type:        typ,
		ExecutionID: ex.id,
		SagaID:      ex.def.ID,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	})
}

// CancelSaga requests cooperative cancellation of a running execution. It
// returns ErrNotFound for unknown IDs and ErrAlreadyCompleted once the
// execution has terminated.
func (o *Orchestrator) CancelSaga(executionID, reason string) error {
	ex, ok := o.executions.Load(executionID)
	if !ok {
		return fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	return ex.requestCancel(reason)
}

// GetExecution returns the execution handle for the given ID.
func (o *Orchestrator) GetExecution(executionID string) (*Execution, error) {
	ex, ok := o.executions.Load(executionID)
	if !ok {
		return nil, fmt.Errorf("%w: execution %s", ErrNotFound, executionID)
	}
	return ex, nil
}

// GetMetrics returns a point-in-time metrics summary for the execution.
func (o *Orchestrator) GetMetrics(executionID string) (Metrics, error) {
	ex, err := o.GetExecution(executionID)
	if err != nil {
		return Metrics{}, err
	}
	return ex.Metrics(), nil
}

// GetLogs returns a copy of the execution's transaction log entries in
// append order.
func (o *Orchestrator) GetLogs(executionID string) ([]LogEntry, error) {
	if _, err := o.GetExecution(executionID); err != nil {
		return nil, err
	}
	return o.txlog.Entries(executionID), nil
}

// PurgeExecution removes a terminated execution and its log entries. It
// returns ErrConflict while the execution is still in flight.
func (o *Orchestrator) PurgeExecution(executionID string) error {
	ex, err := o.GetExecution(executionID)
	if err != nil {
		return err
	}
	if !ex.Status().Terminal() {
		return fmt.Errorf("%w: execution %s is %s", ErrConflict, executionID, ex.Status())
	}
	o.executions.Delete(executionID)
	o.txlog.Purge(executionID)
	return nil
}

// Close stops accepting new sagas, waits for in-flight executions to
// terminate, then drains and closes the event channel. ctx bounds the wait.
func (o *Orchestrator) Close(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	waited := make(chan struct{})
	go func() {
		o.driveWG.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		o.baseCancel()
		<-waited
	}

	o.baseCancel()
	close(o.events)
	o.pumpWG.Wait()
	return ctx.Err()
}
