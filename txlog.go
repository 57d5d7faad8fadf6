package sagaflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// LogLevel classifies a transaction log entry.
type LogLevel int8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown LogLevel: %d", l)
	}
}

// MarshalJSON implements the json.Marshaler interface for LogLevel.
func (l LogLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for LogLevel.
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "debug":
		*l = LevelDebug
	case "info":
		*l = LevelInfo
	case "warn":
		*l = LevelWarn
	case "error":
		*l = LevelError
	default:
		return fmt.Errorf("invalid LogLevel: %s", str)
	}
	return nil
}

// LogEntry is one record of an execution's audit trail. Seq increases
// monotonically within one execution, starting at 1.
type LogEntry struct {
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Seq         uint64         `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}

type executionLog struct {
	mu      sync.Mutex
	seq     uint64
	entries []LogEntry
}

// TransactionLog keeps an append-only event record per execution and
// forwards each entry, best effort, to an optional persistence sink.
type TransactionLog struct {
	index          *xsync.MapOf[string, *executionLog]
	sink           PersistenceSink
	logger         zerolog.Logger
	forwardTimeout time.Duration
}

// NewTransactionLog creates a transaction log. sink may be nil, in which
// case entries are only kept in memory.
func NewTransactionLog(sink PersistenceSink, logger zerolog.Logger) *TransactionLog {
	return &TransactionLog{
		index:          xsync.NewMapOf[string, *executionLog](),
		sink:           sink,
		logger:         logger,
		forwardTimeout: 5 * time.Second,
	}
}

// Append records an entry for the execution and returns it. Forwarding to
// the sink happens asynchronously and never blocks or fails the caller.
func (l *TransactionLog) Append(executionID string, level LogLevel, message, stepID string, data map[string]any) LogEntry {
	el, _ := l.index.LoadOrStore(executionID, &executionLog{})

	el.mu.Lock()
	el.seq++
	entry := LogEntry{
		ExecutionID: executionID,
		StepID:      stepID,
		Seq:         el.seq,
		Timestamp:   time.Now(),
		Level:       level,
		Message:     message,
		Data:        data,
	}
	el.entries = append(el.entries, entry)
	el.mu.Unlock()

	if l.sink != nil {
		go l.forward(entry)
	}
	return entry
}

// forward delivers one entry to the sink. Failures are warned about and
// otherwise swallowed; the saga's own control flow never sees them.
func (l *TransactionLog) forward(entry LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), l.forwardTimeout)
	defer cancel()
	if err := l.sink.AppendLog(ctx, entry); err != nil {
		l.logger.Warn().
			Str("execution_id", entry.ExecutionID).
			Uint64("seq", entry.Seq).
			Err(err).
			Msg("failed to forward log entry to persistence sink")
	}
}

// Entries returns the execution's entries in append order. The returned
// slice is a copy.
func (l *TransactionLog) Entries(executionID string) []LogEntry {
	el, ok := l.index.Load(executionID)
	if !ok {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	out := make([]LogEntry, len(el.entries))
	copy(out, el.entries)
	return out
}

// Purge drops all in-memory entries for the execution. Entries already
// forwarded to the sink are unaffected.
func (l *TransactionLog) Purge(executionID string) {
	l.index.Delete(executionID)
}
