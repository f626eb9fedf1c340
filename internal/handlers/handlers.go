// Package handlers implements the HTTP surface: session lifecycle,
// actions, task listing, and preload control, wired against one Handlers
// struct holding every component dependency (no package-level
// singletons).
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/jcom-dev/vlnbench/internal/action"
	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/geofence"
	"github.com/jcom-dev/vlnbench/internal/httputil"
	"github.com/jcom-dev/vlnbench/internal/models"
	"github.com/jcom-dev/vlnbench/internal/preload"
	"github.com/jcom-dev/vlnbench/internal/task"
)

// Sessions is the subset of internal/session the handlers depend on.
type Sessions interface {
	Create(agentID, taskID string, mode models.SessionMode, spawnMeta *models.PanoramaMetadata) (*models.Session, error)
	Get(sessionID string) (*models.Session, error)
	Pause(sessionID string) (*models.Session, error)
	Resume(sessionID string) (*models.Session, error)
	End(sessionID, reason, answer string) (*models.Session, error)
	List() ([]*models.Session, error)
}

// Panoramas is the subset of internal/panorama the handlers depend on.
type Panoramas interface {
	GetMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error)
}

// Handlers holds every component the HTTP surface needs.
type Handlers struct {
	Sessions  Sessions
	Tasks     *task.Repository
	Panoramas Panoramas
	Executor  *action.Executor
	Geofence  *geofence.Geofence
	Preload   *preload.Orchestrator
	LogDir    string
	ZoomLevel int
}

// Routes mounts every handler onto r.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/session/create", h.createSession)
		r.Get("/session/{id}/state", h.sessionState)
		r.Post("/session/{id}/action", h.sessionAction)
		r.Post("/session/{id}/end", h.sessionEnd)
		r.Post("/session/{id}/pause", h.sessionPause)
		r.Post("/session/{id}/resume", h.sessionResume)

		r.Get("/tasks", h.listTasks)
		r.Get("/tasks/{id}", h.getTask)
		r.Post("/tasks/{id}/preload", h.preloadTask)
		r.Get("/tasks/{id}/preload/status", h.preloadTaskStatus)

		r.Post("/geofences/{name}/preload", h.preloadGeofence)
		r.Get("/geofences/{name}/preload/status", h.preloadGeofenceStatus)

		r.Get("/sessions", h.listSessions)
		r.Get("/sessions/{id}/log", h.sessionLog)
	})
}

type createSessionRequest struct {
	AgentID string `json:"agent_id"`
	TaskID  string `json:"task_id"`
	Mode    string `json:"mode"`
}

func (h *Handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, apierr.InvalidArgumentf("invalid request body: %v", err))
		return
	}

	mode := models.ModeAgent
	switch req.Mode {
	case "", string(models.ModeAgent):
	case string(models.ModeHuman):
		mode = models.ModeHuman
	default:
		httputil.RespondError(w, apierr.InvalidArgumentf("unknown mode %q", req.Mode))
		return
	}

	t, err := h.Tasks.Get(req.TaskID)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	spawnMeta, err := h.Panoramas.GetMetadata(r.Context(), t.SpawnPanoID)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	sess, err := h.Sessions.Create(req.AgentID, req.TaskID, mode, spawnMeta)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	if err := h.Executor.StartTrajectory(sess); err != nil {
		httputil.RespondError(w, err)
		return
	}

	obs, err := h.Executor.Observe(r.Context(), sess.SessionID)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":  sess.SessionID,
		"observation": obs,
	})
}

func (h *Handlers) sessionState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.Sessions.Get(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	obs, err := h.Executor.Observe(r.Context(), sess.SessionID)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":   sess.SessionID,
		"status":       sess.Status,
		"step_count":   sess.StepCount,
		"elapsed_time": sess.ElapsedSeconds(),
		"observation":  obs,
	})
}

type actionRequest struct {
	Type    string   `json:"type"`
	MoveID  int      `json:"move_id"`
	Heading *float64 `json:"heading"`
	Pitch   *float64 `json:"pitch"`
	Answer  string   `json:"answer"`
}

func (h *Handlers) sessionAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, apierr.InvalidArgumentf("invalid request body: %v", err))
		return
	}

	kind := action.Kind(req.Type)
	result, err := h.Executor.Apply(r.Context(), id, action.Request{
		Kind:    kind,
		MoveID:  req.MoveID,
		Heading: req.Heading,
		Pitch:   req.Pitch,
		Answer:  req.Answer,
	})
	if err != nil {
		httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error": map[string]string{
				"kind":    string(apierr.KindOf(err)),
				"message": apierr.Message(err),
			},
		})
		return
	}

	resp := map[string]interface{}{
		"success":     true,
		"observation": result.Observation,
		"done":        result.Done,
	}
	if result.DoneReason != "" {
		resp["done_reason"] = result.DoneReason
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

type endRequest struct {
	Reason string `json:"reason"`
	Answer string `json:"answer"`
}

func (h *Handlers) sessionEnd(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req endRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "stopped"
	}

	sess, err := h.Sessions.End(id, req.Reason, req.Answer)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	if err := h.Executor.EndTrajectory(id); err != nil {
		slog.Warn("trajectory log close failed", "session_id", id, "error", err)
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) sessionPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.Sessions.Pause(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) sessionResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.Sessions.Resume(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sess)
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, h.Tasks.List())
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Tasks.Get(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, t)
}

func (h *Handlers) preloadTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Tasks.Get(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	panoIDs := h.Geofence.PanoIDs(t.Geofence)
	h.Preload.Start(t.Geofence, panoIDs, h.ZoomLevel)
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handlers) preloadTaskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.Tasks.Get(id)
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, h.Preload.Status(t.Geofence))
}

func (h *Handlers) preloadGeofence(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	panoIDs := h.Geofence.PanoIDs(name)
	h.Preload.Start(name, panoIDs, h.ZoomLevel)
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (h *Handlers) preloadGeofenceStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	httputil.RespondJSON(w, http.StatusOK, h.Preload.Status(name))
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.List()
	if err != nil {
		httputil.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handlers) sessionLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	path := h.LogDir + "/" + id + ".jsonl"
	f, err := os.Open(path)
	if err != nil {
		httputil.RespondError(w, apierr.NotFoundf("no log for session %s", id))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, f); err != nil {
		httputil.RespondError(w, apierr.Internalf(err, "stream session log"))
	}
}
