package session

import (
	"fmt"
	"sync"
	"time"
)

// diagCap is how many recent diagnostic entries the session keeps.
const diagCap = 50

// DiagnosticLog is a bounded in-memory ring of recent session diagnostics,
// kept alongside structured logging so the UI can show what went wrong
// without scraping process logs.
type DiagnosticLog struct {
	mu      sync.Mutex
	cap     int
	entries []string
}

// NewDiagnosticLog builds a ring holding up to capacity entries.
func NewDiagnosticLog(capacity int) *DiagnosticLog {
	if capacity <= 0 {
		capacity = diagCap
	}
	return &DiagnosticLog{cap: capacity}
}

// Addf appends one timestamped entry, evicting the oldest when full.
func (d *DiagnosticLog) Addf(format string, args ...any) {
	line := time.Now().UTC().Format(time.RFC3339) + " " + fmt.Sprintf(format, args...)
	d.mu.Lock()
	if len(d.entries) >= d.cap {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, line)
	d.mu.Unlock()
}

// Entries returns a copy of the current entries, oldest first.
func (d *DiagnosticLog) Entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.entries...)
}
