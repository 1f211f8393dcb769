package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	[node_completed] run=run-001 user=user-003 node=checkout duration_ms=412
//
// Example JSON output:
//
//	{"type":"node_completed","run_id":"run-001","user_id":"user-003","node_id":"checkout","duration_ms":412}
//
// Writes are serialized with a mutex so concurrent users produce whole lines.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer.
// A nil writer defaults to os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one line per event.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		Type       string         `json:"type"`
		RunID      string         `json:"run_id"`
		UserID     string         `json:"user_id"`
		NodeID     string         `json:"node_id,omitempty"`
		DurationMS float64        `json:"duration_ms,omitempty"`
		Request    map[string]any `json:"request,omitempty"`
		Response   map[string]any `json:"response,omitempty"`
		Error      string         `json:"error,omitempty"`
		Meta       map[string]any `json:"meta,omitempty"`
	}{
		Type:       event.Type,
		RunID:      event.RunID,
		UserID:     event.UserID,
		NodeID:     event.NodeID,
		DurationMS: event.DurationMS,
		Request:    event.Request,
		Response:   event.Response,
		Error:      event.Error,
		Meta:       event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] run=%s user=%s", event.Type, event.RunID, event.UserID)
	if event.NodeID != "" {
		fmt.Fprintf(l.writer, " node=%s", event.NodeID)
	}
	if event.DurationMS > 0 {
		fmt.Fprintf(l.writer, " duration_ms=%.0f", event.DurationMS)
	}
	if event.Error != "" {
		fmt.Fprintf(l.writer, " error=%q", event.Error)
	}
	if len(event.Meta) > 0 {
		if metaJSON, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		}
	}
	fmt.Fprint(l.writer, "\n")
}
