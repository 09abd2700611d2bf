package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"streamnet/online"
	"streamnet/store"
)

// handlers binds the service to the HTTP surface.
type handlers struct {
	svc      *Service
	hub      *Hub
	log      *zap.Logger
	tunables func() Tunables
}

// Tunables are the serve-time settings read per request; the config watcher
// republishes them on reload.
type Tunables struct {
	AnomalyThreshold float64
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/models", h.listModels)
	mux.HandleFunc("POST /api/models/{name}/learn", h.learn)
	mux.HandleFunc("POST /api/models/{name}/predict", h.predict)
	mux.HandleFunc("POST /api/models/{name}/score", h.score)
	mux.HandleFunc("GET /api/models/{name}/metrics", h.modelMetrics)
	mux.HandleFunc("POST /api/models/{name}/snapshot", h.saveSnapshot)
	mux.HandleFunc("POST /api/models/{name}/restore", h.restoreSnapshot)
	mux.HandleFunc("DELETE /api/models/{name}", h.removeModel)
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/metrics", h.hub.HandleWebSocket)
	}
}

// learnRequest is the body of a learn call. Kind is required the first time
// a model name is seen and optional afterwards.
type learnRequest struct {
	Kind     string         `json:"kind,omitempty"`
	Features online.Example `json:"features"`
	Label    string         `json:"label,omitempty"`
	Target   *float64       `json:"target,omitempty"`
}

type predictRequest struct {
	Features online.Example `json:"features"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"models": h.svc.reg.Len(),
	})
}

func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  h.svc.Names(),
		"metrics": h.svc.AllMetrics(),
	})
}

func (h *handlers) learn(w http.ResponseWriter, r *http.Request) {
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.Learn(r.PathValue("name"), req.Kind, req.Features, req.Label, req.Target)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.Predict(r.PathValue("name"), req.Features)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) score(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := h.svc.ScoreOne(r.PathValue("name"), req.Features, h.tunables().AnomalyThreshold)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) modelMetrics(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Metrics(r.PathValue("name"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) saveSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.svc.Save(name); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": name})
}

func (h *handlers) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.svc.Restore(name); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restored": name})
}

func (h *handlers) removeModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.svc.Remove(name); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": name})
}

// writeServiceError maps adapter and service errors to HTTP statuses. A
// prediction before any learning is a conflict with the model's state, a
// feature mismatch is an unprocessable example, a build failure is ours.
func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, online.ErrNotFitted):
		status = http.StatusConflict
	case errors.Is(err, online.ErrFeatureMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, online.ErrBuild):
		status = http.StatusInternalServerError
	case errors.Is(err, errUnknownModel), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errKindConflict):
		status = http.StatusConflict
	case errors.Is(err, errBadKind), errors.Is(err, errInvalidRequest):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
