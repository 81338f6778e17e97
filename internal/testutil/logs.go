package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/gaborage/rxdao/logger"
)

// LogCapture records JSON log lines written by a logger built with NewLogCapture.
// It is safe for concurrent writers.
type LogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogCapture returns a logger at the given level together with its capture.
func NewLogCapture(level string) (logger.Logger, *LogCapture) {
	c := &LogCapture{}
	return logger.NewWithWriter(c, level), c
}

// Write implements io.Writer.
func (c *LogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Entries decodes every captured line.
func (c *LogCapture) Entries(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

// ByLevel returns the captured entries with the given level.
func (c *LogCapture) ByLevel(t *testing.T, level string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, e := range c.Entries(t) {
		if e["level"] == level {
			out = append(out, e)
		}
	}
	return out
}
