// Package models defines the data types shared across the runtime: panorama
// metadata and imagery, geofences, tasks, sessions, and trajectory events.
package models

import "time"

// Link is a provider-declared navigable edge to an adjacent panorama. Heading
// is true-north referenced (0=N, clockwise) — see PanoramaMetadata.
type Link struct {
	TargetPanoID string  `json:"target_pano_id"`
	Heading      float64 `json:"heading"`
}

// PanoramaMetadata describes one panorama's capture point and its neighbors.
type PanoramaMetadata struct {
	PanoID        string  `json:"pano_id"`
	Lat           float64 `json:"lat"`
	Lng           float64 `json:"lng"`
	CaptureDate   string  `json:"capture_date,omitempty"`
	CenterHeading float64 `json:"center_heading"`
	Links         []Link  `json:"links"`
	Source        string  `json:"source,omitempty"`
}

// Location is the denormalized (lat, lng) projection of a PanoramaMetadata,
// used for batch distance lookups on the hot path.
type Location struct {
	PanoID string
	Lat    float64
	Lng    float64
}

// SessionMode selects whether the runtime serves perspective frames (agent)
// or full equirectangular panoramas in addition (human).
type SessionMode string

const (
	ModeAgent SessionMode = "agent"
	ModeHuman SessionMode = "human"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusTimeout   SessionStatus = "timeout"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// Task is declarative and read-only to the runtime; it is supplied by the
// external generation pipeline and never mutated here.
type Task struct {
	TaskID          string   `json:"task_id"`
	Description     string   `json:"description"`
	SpawnPanoID     string   `json:"spawn_pano_id"`
	SpawnHeading    float64  `json:"spawn_heading"`
	Geofence        string   `json:"geofence,omitempty"`
	TargetPanoIDs   []string `json:"target_pano_ids,omitempty"`
	MaxSteps        int      `json:"max_steps,omitempty"`
	MaxTimeSeconds  int      `json:"max_time_seconds,omitempty"`
}

// State is an agent's current pose and position within the panorama graph.
type State struct {
	PanoID      string  `json:"pano_id"`
	Heading     float64 `json:"heading"`
	Pitch       float64 `json:"pitch"`
	FOV         float64 `json:"fov"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	CaptureDate string  `json:"capture_date,omitempty"`
}

// Session is one agent's run of one task.
type Session struct {
	SessionID    string        `json:"session_id"`
	AgentID      string        `json:"agent_id"`
	TaskID       string        `json:"task_id"`
	Mode         SessionMode   `json:"mode"`
	Status       SessionStatus `json:"status"`
	State        State         `json:"state"`
	StepCount    int           `json:"step_count"`
	StartTime    time.Time     `json:"start_time"`
	LastUpdate   time.Time     `json:"-"`
	Trajectory   []string      `json:"trajectory"`
	DoneReason   string        `json:"done_reason,omitempty"`
	AgentAnswer  string        `json:"agent_answer,omitempty"`
}

// ElapsedSeconds reports the seconds from StartTime to LastUpdate, or to
// now when LastUpdate is zero (it is not serialized, so a session hydrated
// from storage measures to now).
func (s *Session) ElapsedSeconds() float64 {
	ref := s.LastUpdate
	if ref.IsZero() {
		ref = time.Now()
	}
	return ref.Sub(s.StartTime).Seconds()
}

// AppendTrajectory appends panoID unless it repeats the current tail,
// enforcing the no-consecutive-duplicates invariant.
func (s *Session) AppendTrajectory(panoID string) {
	if len(s.Trajectory) > 0 && s.Trajectory[len(s.Trajectory)-1] == panoID {
		return
	}
	s.Trajectory = append(s.Trajectory, panoID)
}

// Move is one enumerated step-forward option bound to a specific neighbor
// link, as returned in an Observation's available_moves.
type Move struct {
	ID        int     `json:"id"`
	Direction string  `json:"direction"`
	Distance  *float64 `json:"distance,omitempty"`
	Heading   float64 `json:"heading"`
	PanoID    string  `json:"-"`
}

// Observation is the payload returned after session create/state/action.
type Observation struct {
	TaskDescription string  `json:"task_description"`
	CurrentImage    *string `json:"current_image"`
	PanoramaURL     *string `json:"panorama_url,omitempty"`
	Heading         float64 `json:"heading"`
	Pitch           float64 `json:"pitch"`
	FOV             float64 `json:"fov"`
	CenterHeading   float64 `json:"center_heading"`
	AvailableMoves  []Move  `json:"available_moves"`
}

// TrajectoryEventType discriminates the kind of event appended to a
// session's trajectory log.
type TrajectoryEventType string

const (
	EventSessionStart TrajectoryEventType = "session_start"
	EventAction       TrajectoryEventType = "action"
	EventSessionEnd   TrajectoryEventType = "session_end"
)

// TrajectoryEvent is one append-only log line for a session.
type TrajectoryEvent struct {
	Type       TrajectoryEventType `json:"type"`
	SessionID  string              `json:"session_id"`
	Step       int                 `json:"step"`
	Timestamp  time.Time           `json:"timestamp"`
	State      *State              `json:"state,omitempty"`
	ActionKind string              `json:"action_kind,omitempty"`
	MoveID     *int                `json:"move_id,omitempty"`
	DoneReason string              `json:"done_reason,omitempty"`
	Answer     string              `json:"answer,omitempty"`
	Error      string              `json:"error,omitempty"`
}
