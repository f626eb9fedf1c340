package trajectory

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcom-dev/vlnbench/internal/models"
)

func readLines(t *testing.T, path string) []models.TrajectoryEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []models.TrajectoryEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e models.TrajectoryEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestOpenLogCloseProducesJSONL(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	require.NoError(t, l.Open("sess-1"))
	l.Log("sess-1", models.TrajectoryEvent{Type: models.EventSessionStart, SessionID: "sess-1"})
	l.Log("sess-1", models.TrajectoryEvent{Type: models.EventAction, SessionID: "sess-1", Step: 1, ActionKind: "move"})
	require.NoError(t, l.Close("sess-1"))

	events := readLines(t, filepath.Join(dir, "sess-1.jsonl"))
	require.Len(t, events, 2)
	assert.Equal(t, models.EventSessionStart, events[0].Type)
	assert.Equal(t, models.EventAction, events[1].Type)
	assert.Equal(t, "move", events[1].ActionKind)
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.Open("sess-1"))
	require.NoError(t, l.Open("sess-1"))
	require.NoError(t, l.Close("sess-1"))
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	require.NoError(t, l.Open("sess-1"))
	require.NoError(t, l.Close("sess-1"))
	require.NoError(t, l.Close("sess-1"))
}

func TestLogWithoutOpenWarnsAndDoesNotPanic(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	l.Log("never-opened", models.TrajectoryEvent{Type: models.EventAction})
	// Give any accidental goroutine a beat; nothing should be written.
	time.Sleep(10 * time.Millisecond)
	_, err := os.Stat(filepath.Join(dir, "never-opened.jsonl"))
	assert.True(t, os.IsNotExist(err))
}
