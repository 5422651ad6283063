package environment

import (
	"fmt"
	"sync"
	"time"

	"github.com/rendis/pagepilot/pkg/schema"
)

// LogEntry is one execution log line produced while a phase runs.
type LogEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Level     schema.LogLevel `json:"level"`
	Message   string          `json:"message"`
}

// LogCollector gathers the log entries of a single phase. Timestamps are
// assigned on append and never go backwards within one collector.
type LogCollector struct {
	mu      sync.Mutex
	clock   func() time.Time
	last    time.Time
	entries []LogEntry
}

func newLogCollector(clock func() time.Time) *LogCollector {
	return &LogCollector{clock: clock}
}

// Info appends an info-level entry.
func (c *LogCollector) Info(msg string) {
	c.append(schema.LogInfo, msg)
}

// Infof appends a formatted info-level entry.
func (c *LogCollector) Infof(format string, args ...any) {
	c.append(schema.LogInfo, fmt.Sprintf(format, args...))
}

// Error appends an error-level entry.
func (c *LogCollector) Error(msg string) {
	c.append(schema.LogError, msg)
}

// Errorf appends a formatted error-level entry.
func (c *LogCollector) Errorf(format string, args ...any) {
	c.append(schema.LogError, fmt.Sprintf(format, args...))
}

func (c *LogCollector) append(level schema.LogLevel, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.clock().UTC()
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts
	c.entries = append(c.entries, LogEntry{Timestamp: ts, Level: level, Message: msg})
}

// Entries returns a copy of the collected entries in append order.
func (c *LogCollector) Entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// HasErrors reports whether any error-level entry was appended.
func (c *LogCollector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Level == schema.LogError {
			return true
		}
	}
	return false
}
