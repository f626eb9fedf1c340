// Package action implements the state machine accepting move/rotation/stop
// actions, validating them against the current session state, invoking
// the Renderer, and assembling the resulting Observation.
package action

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/direction"
	"github.com/jcom-dev/vlnbench/internal/metrics"
	"github.com/jcom-dev/vlnbench/internal/models"
	"github.com/jcom-dev/vlnbench/internal/render"
)

// Kind discriminates the three action shapes a session can receive.
type Kind string

const (
	KindMove     Kind = "move"
	KindRotation Kind = "rotation"
	KindStop     Kind = "stop"
)

// Request is one action submission.
type Request struct {
	Kind    Kind
	MoveID  int
	Heading *float64
	Pitch   *float64
	Answer  string
}

// Geofence is the subset of internal/geofence the executor depends on.
type Geofence interface {
	IsAllowed(name, panoID string) bool
}

// Sessions is the subset of internal/session the executor depends on.
type Sessions interface {
	Get(sessionID string) (*models.Session, error)
	Update(sessionID string, newState models.State, incrementStep bool) (*models.Session, error)
	End(sessionID, reason, answer string) (*models.Session, error)
	CheckTermination(sessionID string, t *models.Task) (string, error)
}

// Tasks is the subset of internal/task the executor depends on.
type Tasks interface {
	Get(taskID string) (*models.Task, error)
}

// Panoramas is the subset of internal/panorama the executor depends on.
type Panoramas interface {
	GetMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error)
	GetLinksFiltered(ctx context.Context, panoID, geofenceName string) ([]models.Link, error)
	GetImage(ctx context.Context, panoID string, zoom int) (string, error)
}

// Trajectory is the subset of internal/trajectory the executor depends on.
type Trajectory interface {
	Open(sessionID string) error
	Log(sessionID string, event models.TrajectoryEvent)
	Close(sessionID string) error
}

// Executor is the ActionExecutor component.
type Executor struct {
	sessions  Sessions
	tasks     Tasks
	panoramas Panoramas
	geofence  Geofence
	traj      Trajectory

	tempImageDir string
	zoomLevel    int
}

// Config names the knobs Executor needs beyond its collaborators.
type Config struct {
	TempImageDir string
	ZoomLevel    int
}

// New builds an Executor wired to its collaborators.
func New(sessions Sessions, tasks Tasks, panoramas Panoramas, geofence Geofence, traj Trajectory, cfg Config) *Executor {
	return &Executor{
		sessions:     sessions,
		tasks:        tasks,
		panoramas:    panoramas,
		geofence:     geofence,
		traj:         traj,
		tempImageDir: cfg.TempImageDir,
		zoomLevel:    cfg.ZoomLevel,
	}
}

// Result is what Apply returns on success.
type Result struct {
	Observation models.Observation
	Done        bool
	DoneReason  string
}

// Apply validates and applies req against sessionID's current state,
// returning the resulting Observation. On failure, the session is left
// entirely unchanged: no step consumed, no trajectory entry, no log line.
func (x *Executor) Apply(ctx context.Context, sessionID string, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ActionApplyDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	}()

	sess, err := x.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	task, err := x.tasks.Get(sess.TaskID)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case KindStop:
		return x.applyStop(ctx, sess, task, req)
	case KindRotation:
		return x.applyRotation(ctx, sess, task, req)
	case KindMove:
		return x.applyMove(ctx, sess, task, req)
	default:
		return nil, apierr.InvalidArgumentf("unknown action kind %q", req.Kind)
	}
}

// StartTrajectory opens sessionID's append-only log and records its
// session_start event. Called once, right after session creation.
func (x *Executor) StartTrajectory(sess *models.Session) error {
	if err := x.traj.Open(sess.SessionID); err != nil {
		return apierr.Internalf(err, "open trajectory log for %s", sess.SessionID)
	}
	x.traj.Log(sess.SessionID, models.TrajectoryEvent{
		Type:      models.EventSessionStart,
		SessionID: sess.SessionID,
		Step:      sess.StepCount,
		State:     &sess.State,
	})
	return nil
}

// EndTrajectory closes sessionID's append-only log. Safe to call even if
// Apply already closed it for this session (Close is idempotent).
func (x *Executor) EndTrajectory(sessionID string) error {
	return x.traj.Close(sessionID)
}

// Observe renders the current state's Observation without applying any
// action or consuming a step, used to answer session/create and
// session/state requests.
func (x *Executor) Observe(ctx context.Context, sessionID string) (*models.Observation, error) {
	sess, err := x.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	task, err := x.tasks.Get(sess.TaskID)
	if err != nil {
		return nil, err
	}
	return x.renderObservation(ctx, sess, task)
}

func (x *Executor) applyStop(ctx context.Context, sess *models.Session, task *models.Task, req Request) (*Result, error) {
	updated, err := x.sessions.End(sess.SessionID, "stopped", req.Answer)
	if err != nil {
		return nil, err
	}

	obs, err := x.renderObservation(ctx, updated, task)
	if err != nil {
		return nil, err
	}
	x.logAction(updated, "stop", nil, "stopped", req.Answer, "")
	if err := x.traj.Close(updated.SessionID); err != nil {
		slog.Warn("trajectory log close failed", "session_id", updated.SessionID, "error", err)
	}
	return &Result{Observation: *obs, Done: true, DoneReason: "stopped"}, nil
}

func (x *Executor) applyRotation(ctx context.Context, sess *models.Session, task *models.Task, req Request) (*Result, error) {
	newState := sess.State
	if req.Heading != nil {
		h := *req.Heading
		for h < 0 {
			h += 360
		}
		newState.Heading = mod360(h)
	}
	if req.Pitch != nil {
		newState.Pitch = clamp(*req.Pitch, -85, 85)
	}
	newState.FOV = x.defaultFOV()

	updated, err := x.sessions.Update(sess.SessionID, newState, true)
	if err != nil {
		return nil, err
	}
	return x.finishTransition(ctx, updated, task, "rotation", nil)
}

func mod360(h float64) float64 {
	for h >= 360 {
		h -= 360
	}
	return h
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (x *Executor) defaultFOV() float64 { return 90.0 }

func (x *Executor) applyMove(ctx context.Context, sess *models.Session, task *models.Task, req Request) (*Result, error) {
	if sess.Status != models.StatusRunning && sess.Status != models.StatusPaused {
		return nil, apierr.InvalidStatef("session %s is not active", sess.SessionID)
	}

	links, err := x.panoramas.GetLinksFiltered(ctx, sess.State.PanoID, task.Geofence)
	if err != nil {
		return nil, err
	}
	currentMeta, err := x.panoramas.GetMetadata(ctx, sess.State.PanoID)
	if err != nil {
		return nil, err
	}
	locations, err := x.resolveLocations(ctx, links)
	if err != nil {
		return nil, err
	}
	moves := direction.BuildMoves(links, sess.State.Heading, currentMeta.Lat, currentMeta.Lng, locations)

	var chosen *models.Move
	for i := range moves {
		if moves[i].ID == req.MoveID {
			chosen = &moves[i]
			break
		}
	}
	if chosen == nil {
		return nil, apierr.InvalidArgumentf("no move with id %d", req.MoveID)
	}

	if task.Geofence != "" && !x.geofence.IsAllowed(task.Geofence, chosen.PanoID) {
		return nil, apierr.OutsideGeofencef("pano %s is outside geofence %s", chosen.PanoID, task.Geofence)
	}

	targetMeta, err := x.panoramas.GetMetadata(ctx, chosen.PanoID)
	if err != nil {
		return nil, err
	}

	newState := models.State{
		PanoID:      chosen.PanoID,
		Heading:     chosen.Heading,
		Pitch:       sess.State.Pitch,
		FOV:         x.defaultFOV(),
		Lat:         targetMeta.Lat,
		Lng:         targetMeta.Lng,
		CaptureDate: targetMeta.CaptureDate,
	}

	updated, err := x.sessions.Update(sess.SessionID, newState, true)
	if err != nil {
		return nil, err
	}
	return x.finishTransition(ctx, updated, task, "move", &chosen.ID)
}

func (x *Executor) resolveLocations(ctx context.Context, links []models.Link) (map[string]models.Location, error) {
	locations := make(map[string]models.Location, len(links))
	for _, l := range links {
		m, err := x.panoramas.GetMetadata(ctx, l.TargetPanoID)
		if err != nil {
			continue // dangling/unavailable neighbor: omitted from available_moves
		}
		locations[l.TargetPanoID] = models.Location{PanoID: l.TargetPanoID, Lat: m.Lat, Lng: m.Lng}
	}
	return locations, nil
}

func (x *Executor) finishTransition(ctx context.Context, sess *models.Session, task *models.Task, actionKind string, moveID *int) (*Result, error) {
	reason, err := x.sessions.CheckTermination(sess.SessionID, task)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		sess, err = x.sessions.End(sess.SessionID, reason, "")
		if err != nil {
			return nil, err
		}
	}

	obs, err := x.renderObservation(ctx, sess, task)
	if err != nil {
		return nil, err
	}

	x.logAction(sess, actionKind, moveID, reason, "", "")
	if reason != "" {
		if err := x.traj.Close(sess.SessionID); err != nil {
			slog.Warn("trajectory log close failed", "session_id", sess.SessionID, "error", err)
		}
	}
	return &Result{Observation: *obs, Done: reason != "", DoneReason: reason}, nil
}

func (x *Executor) renderObservation(ctx context.Context, sess *models.Session, task *models.Task) (*models.Observation, error) {
	meta, err := x.panoramas.GetMetadata(ctx, sess.State.PanoID)
	if err != nil {
		return nil, err
	}

	links, err := x.panoramas.GetLinksFiltered(ctx, sess.State.PanoID, task.Geofence)
	if err != nil {
		return nil, err
	}
	locations, err := x.resolveLocations(ctx, links)
	if err != nil {
		return nil, err
	}
	moves := direction.BuildMoves(links, sess.State.Heading, sess.State.Lat, sess.State.Lng, locations)

	obs := &models.Observation{
		TaskDescription: task.Description,
		Heading:         sess.State.Heading,
		Pitch:           sess.State.Pitch,
		FOV:             sess.State.FOV,
		CenterHeading:   meta.CenterHeading,
		AvailableMoves:  moves,
	}

	// The step was already consumed by sessions.Update/End before this ran.
	// Navigation isn't gated on successful image emission: a failure here
	// degrades current_image to null instead of rolling back the step.
	if currentImage, err := x.renderCurrentImage(ctx, sess, meta); err != nil {
		slog.Error("render current image failed, advancing with null current_image",
			"session_id", sess.SessionID, "pano_id", sess.State.PanoID, "error", err)
	} else {
		obs.CurrentImage = &currentImage
	}

	if sess.Mode == models.ModeHuman {
		panoURL := fmt.Sprintf("/data/panoramas/%s_z%d.jpg", sess.State.PanoID, x.zoomLevel)
		obs.PanoramaURL = &panoURL
	}
	return obs, nil
}

// renderCurrentImage produces the step's rendered frame and returns its
// public URL path. Every failure is local to image production; callers
// treat it as non-fatal to the rest of the observation.
func (x *Executor) renderCurrentImage(ctx context.Context, sess *models.Session, meta *models.PanoramaMetadata) (string, error) {
	equirectPath, err := x.panoramas.GetImage(ctx, sess.State.PanoID, x.zoomLevel)
	if err != nil {
		return "", err
	}

	src, err := decodeJPEG(equirectPath)
	if err != nil {
		return "", apierr.Internalf(err, "decode equirectangular image for %s", sess.State.PanoID)
	}

	frame, err := render.Frame(src, render.Options{
		Heading:       sess.State.Heading,
		Pitch:         sess.State.Pitch,
		FOV:           sess.State.FOV,
		CenterHeading: meta.CenterHeading,
		Width:         640,
		Height:        480,
	})
	if err != nil {
		return "", apierr.Internalf(err, "render frame for session %s", sess.SessionID)
	}

	stepDir := filepath.Join(x.tempImageDir, sess.SessionID)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return "", apierr.Internalf(err, "create step image dir")
	}
	stepPath := filepath.Join(stepDir, fmt.Sprintf("step_%d.jpg", sess.StepCount))
	if err := os.WriteFile(stepPath, frame, 0o644); err != nil {
		return "", apierr.Internalf(err, "write step image")
	}

	return "/temp_images/" + sess.SessionID + "/" + fmt.Sprintf("step_%d.jpg", sess.StepCount), nil
}

func (x *Executor) logAction(sess *models.Session, actionKind string, moveID *int, doneReason, answer, errMsg string) {
	eventType := models.EventAction
	if doneReason != "" {
		eventType = models.EventSessionEnd
	}
	x.traj.Log(sess.SessionID, models.TrajectoryEvent{
		Type:       eventType,
		SessionID:  sess.SessionID,
		Step:       sess.StepCount,
		State:      &sess.State,
		ActionKind: actionKind,
		MoveID:     moveID,
		DoneReason: doneReason,
		Answer:     answer,
		Error:      errMsg,
	})
}

func decodeJPEG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return jpeg.Decode(f)
}
