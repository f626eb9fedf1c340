// Package trajectory implements an append-only JSON-lines log per
// session, written by a single background worker per open session so
// concurrent action steps never interleave writes.
package trajectory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jcom-dev/vlnbench/internal/models"
)

const bufferSize = 256

// Logger manages one append-only JSONL file per open session.
type Logger struct {
	logDir string

	mu      sync.Mutex
	writers map[string]*sessionWriter
}

type sessionWriter struct {
	buffer   chan models.TrajectoryEvent
	stopChan chan struct{}
	wg       sync.WaitGroup
	file     *os.File
}

// New returns a Logger writing under logDir/<sessionId>.jsonl.
func New(logDir string) *Logger {
	return &Logger{logDir: logDir, writers: make(map[string]*sessionWriter)}
}

// Open starts a session's log file and its background writer. Calling Open
// twice for the same session is a no-op.
func (l *Logger) Open(sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.writers[sessionID]; ok {
		return nil
	}

	if err := os.MkdirAll(l.logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(l.logDir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open trajectory log: %w", err)
	}

	w := &sessionWriter{
		buffer:   make(chan models.TrajectoryEvent, bufferSize),
		stopChan: make(chan struct{}),
		file:     f,
	}
	w.wg.Add(1)
	go w.run()
	l.writers[sessionID] = w
	return nil
}

// Log appends event to sessionID's log. Non-blocking: a full buffer drops
// the event with a warning rather than delaying the caller's response.
func (l *Logger) Log(sessionID string, event models.TrajectoryEvent) {
	l.mu.Lock()
	w, ok := l.writers[sessionID]
	l.mu.Unlock()
	if !ok {
		slog.Warn("trajectory log write with no open session", "session_id", sessionID)
		return
	}

	select {
	case w.buffer <- event:
	default:
		slog.Warn("trajectory log buffer full, dropping event", "session_id", sessionID, "type", event.Type)
	}
}

// Close flushes and closes sessionID's log file. Safe to call once per
// Open; a second call is a no-op.
func (l *Logger) Close(sessionID string) error {
	l.mu.Lock()
	w, ok := l.writers[sessionID]
	if ok {
		delete(l.writers, sessionID)
	}
	l.mu.Unlock()
	if !ok {
		return nil
	}

	close(w.stopChan)
	w.wg.Wait()
	return w.file.Close()
}

func (w *sessionWriter) run() {
	defer w.wg.Done()
	enc := json.NewEncoder(w.file)

	for {
		select {
		case event := <-w.buffer:
			w.write(enc, event)
		case <-w.stopChan:
			for len(w.buffer) > 0 {
				w.write(enc, <-w.buffer)
			}
			return
		}
	}
}

func (w *sessionWriter) write(enc *json.Encoder, event models.TrajectoryEvent) {
	if err := enc.Encode(event); err != nil {
		slog.Error("trajectory log write failed", "error", err)
	}
}
