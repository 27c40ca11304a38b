// Package audit provides an append-only trail of reconciliation actions.
// Every pass gets a correlation id; every probe/decision/action lands as one
// JSON line, so a partial run can be reconstructed after the fact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a single audit log entry.
type Event struct {
	// RunID correlates all events of one pass.
	RunID string `json:"run_id"`
	// Timestamp is when the event was recorded.
	Timestamp time.Time `json:"timestamp"`
	// Resource is the kind-qualified resource id.
	Resource string `json:"resource"`
	// Stage is the dependency stage the resource belongs to.
	Stage int `json:"stage"`
	// Decision is the reconciliation decision that was executed.
	Decision string `json:"decision"`
	// Duration is how long the reconciliation of this resource took.
	Duration time.Duration `json:"duration"`
	// Success indicates whether the action succeeded.
	Success bool `json:"success"`
	// Error contains failure details.
	Error string `json:"error,omitempty"`
}

// Logger appends events to a JSONL file. Safe for concurrent use.
type Logger struct {
	mu    sync.Mutex
	runID string
	path  string
	// events kept in memory for the end-of-run summary
	events []Event
}

// NewLogger creates a logger writing to path. The file is created lazily on
// the first event.
func NewLogger(path string) *Logger {
	return &Logger{
		runID: uuid.NewString(),
		path:  path,
	}
}

// RunID returns the correlation id of this run.
func (l *Logger) RunID() string { return l.runID }

// Record appends one event. Write failures are reported on stderr but never
// fail the reconciliation itself.
func (l *Logger) Record(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.RunID = l.runID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)

	if l.path == "" {
		return
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: failed to open %s: %v\n", l.path, err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: failed to marshal event: %v\n", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: failed to write event: %v\n", err)
	}
}

// Summary aggregates the events recorded during this run.
type Summary struct {
	Total      int
	Succeeded  int
	Failed     int
	ByDecision map[string]int
}

// Summarize returns the run summary.
func (l *Logger) Summarize() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{ByDecision: make(map[string]int)}
	for _, e := range l.events {
		s.Total++
		if e.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		if e.Decision != "" {
			s.ByDecision[e.Decision]++
		}
	}
	return s
}

// Events returns a copy of the events recorded during this run.
func (l *Logger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
