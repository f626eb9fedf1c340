// Package task implements the Task Repository: a read-only, reloadable
// index of task definitions loaded from TASKS_DIR/*.json. Tasks are
// supplied by an external generation pipeline and never mutated by the
// runtime.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/models"
)

// Repository loads and indexes task definitions by TaskID.
type Repository struct {
	dir   string
	mu    sync.Mutex // serializes Reload calls
	tasks atomic.Pointer[map[string]*models.Task]
}

// New loads dir/*.json and returns a ready Repository.
func New(dir string) (*Repository, error) {
	r := &Repository{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads every *.json file under dir and swaps the index in
// atomically; a missing directory yields an empty index rather than an
// error, matching Geofence's posture toward absent config.
func (r *Repository) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		empty := map[string]*models.Task{}
		r.tasks.Store(&empty)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tasks dir: %w", err)
	}

	next := make(map[string]*models.Task, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read task file %s: %w", path, err)
		}
		var t models.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("decode task file %s: %w", path, err)
		}
		if t.TaskID == "" {
			return fmt.Errorf("task file %s missing task_id", path)
		}
		next[t.TaskID] = &t
	}

	r.tasks.Store(&next)
	return nil
}

// Get returns the task with the given ID, or a not_found error.
func (r *Repository) Get(taskID string) (*models.Task, error) {
	index := *r.tasks.Load()
	t, ok := index[taskID]
	if !ok {
		return nil, apierr.NotFoundf("task %s not found", taskID)
	}
	return t, nil
}

// List returns every currently loaded task.
func (r *Repository) List() []*models.Task {
	index := *r.tasks.Load()
	out := make([]*models.Task, 0, len(index))
	for _, t := range index {
		out = append(out, t)
	}
	return out
}
