// Package session is the exclusive owner of live Session records, held in
// an in-memory map backed by a SQLite mirror, with per-session locking
// enforcing serialized access.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/models"
)

// DefaultFOV and DefaultPitch are the fixed starting pose values (spec
// §4.9: "fov is forced to the default (FOV is pinned by design)").
const (
	DefaultFOV   = 90.0
	DefaultPitch = 0.0
)

// Cache is the subset of cachestore.Store the store depends on.
type Cache interface {
	SaveSession(sess *models.Session) error
	LoadSession(sessionID string) (*models.Session, error)
	ListSessions() ([]*models.Session, error)
}

// TaskLookup is the subset of internal/task the store depends on.
type TaskLookup interface {
	Get(taskID string) (*models.Task, error)
}

// entry pairs a live session with the lock that serializes mutations to it.
type entry struct {
	mu   sync.Mutex
	sess *models.Session
}

// Store is the SessionStore component.
type Store struct {
	cache Cache
	tasks TaskLookup

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds a Store wired to its collaborators.
func New(cache Cache, tasks TaskLookup) *Store {
	return &Store{cache: cache, tasks: tasks, entries: make(map[string]*entry)}
}

// Create starts a new session for agentID running taskID in mode, seeding
// its initial state from the task's spawn pano metadata.
func (s *Store) Create(agentID, taskID string, mode models.SessionMode, spawnMeta *models.PanoramaMetadata) (*models.Session, error) {
	t, err := s.tasks.Get(taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &models.Session{
		SessionID: fmt.Sprintf("%s-%s-%d", agentID, taskID, now.UnixNano()),
		AgentID:   agentID,
		TaskID:    taskID,
		Mode:      mode,
		Status:    models.StatusRunning,
		State: models.State{
			PanoID:      t.SpawnPanoID,
			Heading:     t.SpawnHeading,
			Pitch:       DefaultPitch,
			FOV:         DefaultFOV,
			Lat:         spawnMeta.Lat,
			Lng:         spawnMeta.Lng,
			CaptureDate: spawnMeta.CaptureDate,
		},
		StepCount:  0,
		StartTime:  now,
		LastUpdate: now,
	}
	sess.AppendTrajectory(t.SpawnPanoID)

	if err := s.cache.SaveSession(sess); err != nil {
		return nil, fmt.Errorf("persist new session: %w", err)
	}

	s.mu.Lock()
	s.entries[sess.SessionID] = &entry{sess: sess}
	s.mu.Unlock()

	return sess, nil
}

func (s *Store) lockedEntry(sessionID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	// Cold path: hydrate from SQLite and cache the entry.
	sess, err := s.cache.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[sessionID]; ok { // lost the race to another hydrator
		return e, nil
	}
	e = &entry{sess: sess}
	s.entries[sessionID] = e
	return e, nil
}

// Get returns a copy of the current session state.
func (s *Store) Get(sessionID string) (*models.Session, error) {
	e, err := s.lockedEntry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.sess
	return &cp, nil
}

// WithLock runs fn with sessionID's exclusive lock held, passing the live
// (mutable) session. fn's return error aborts the mutation: no persistence
// occurs and the in-memory record is left exactly as it was, so a
// provider or image failure never leaves a session half-updated.
func (s *Store) WithLock(sessionID string, fn func(sess *models.Session) error) (*models.Session, error) {
	e, err := s.lockedEntry(sessionID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	before := *e.sess
	if err := fn(e.sess); err != nil {
		*e.sess = before
		return nil, err
	}

	e.sess.LastUpdate = time.Now()
	if err := s.cache.SaveSession(e.sess); err != nil {
		*e.sess = before
		return nil, fmt.Errorf("persist session: %w", err)
	}

	cp := *e.sess
	return &cp, nil
}

// Update applies newState to sessionID, appending its panoId to the
// trajectory (suppressing consecutive duplicates) and optionally
// incrementing stepCount.
func (s *Store) Update(sessionID string, newState models.State, incrementStep bool) (*models.Session, error) {
	return s.WithLock(sessionID, func(sess *models.Session) error {
		if sess.Status != models.StatusRunning && sess.Status != models.StatusPaused {
			return apierr.InvalidStatef("session %s is not active", sessionID)
		}
		sess.State = newState
		sess.AppendTrajectory(newState.PanoID)
		if incrementStep {
			sess.StepCount++
		}
		return nil
	})
}

// End performs the write-once terminal transition to a completed-family
// status. Calling End again with the same reason is a no-op; a different
// reason on an already-terminal session is rejected.
func (s *Store) End(sessionID, reason, answer string) (*models.Session, error) {
	return s.WithLock(sessionID, func(sess *models.Session) error {
		if isTerminal(sess.Status) {
			if sess.DoneReason == reason {
				return nil
			}
			return apierr.InvalidStatef("session %s already terminal with reason %s", sessionID, sess.DoneReason)
		}
		sess.Status = models.StatusCompleted
		sess.DoneReason = reason
		if answer != "" {
			sess.AgentAnswer = answer
		}
		return nil
	})
}

// Pause transitions a human-mode session to paused; agent-mode sessions
// cannot be paused.
func (s *Store) Pause(sessionID string) (*models.Session, error) {
	return s.WithLock(sessionID, func(sess *models.Session) error {
		if sess.Mode != models.ModeHuman {
			return apierr.InvalidStatef("pause is only allowed in human mode")
		}
		if sess.Status != models.StatusRunning {
			return apierr.InvalidStatef("session %s is not running", sessionID)
		}
		sess.Status = models.StatusPaused
		return nil
	})
}

// Resume transitions a paused human-mode session back to running.
func (s *Store) Resume(sessionID string) (*models.Session, error) {
	return s.WithLock(sessionID, func(sess *models.Session) error {
		if sess.Mode != models.ModeHuman {
			return apierr.InvalidStatef("resume is only allowed in human mode")
		}
		if sess.Status != models.StatusPaused {
			return apierr.InvalidStatef("session %s is not paused", sessionID)
		}
		sess.Status = models.StatusRunning
		return nil
	})
}

// CheckTermination consults maxSteps and maxTimeSeconds and returns a
// non-empty reason if the session should terminate. Reaching a target pano
// never terminates a session by itself; the agent must explicitly stop.
func (s *Store) CheckTermination(sessionID string, t *models.Task) (string, error) {
	sess, err := s.Get(sessionID)
	if err != nil {
		return "", err
	}
	if t.MaxSteps > 0 && sess.StepCount >= t.MaxSteps {
		return "max_steps", nil
	}
	if t.MaxTimeSeconds > 0 && sess.ElapsedSeconds() >= float64(t.MaxTimeSeconds) {
		return "timeout", nil
	}
	return "", nil
}

// List returns every persisted session.
func (s *Store) List() ([]*models.Session, error) {
	return s.cache.ListSessions()
}

func isTerminal(status models.SessionStatus) bool {
	switch status {
	case models.StatusCompleted, models.StatusTimeout, models.StatusStopped, models.StatusError:
		return true
	default:
		return false
	}
}
