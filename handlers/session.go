package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"locoinspect/controller"
	"locoinspect/models"

	"go.uber.org/zap"
)

// keepAliveInterval spaces comment lines on idle event streams so proxies keep them open.
var keepAliveInterval = 25 * time.Second

type SessionHandler struct {
	ctrl   *controller.Controller
	logger *zap.Logger
}

func NewSessionHandler(ctrl *controller.Controller, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, logger: logger}
}

// Get returns the session's view state
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := h.ctrl.View(id)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type NavigateRequest struct {
	View models.View `json:"view"`
}

// Navigate moves the session to another screen. Unauthorised targets leave the view as it was.
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req NavigateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.ctrl.Navigate(id, req.View)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	if view == models.ViewLogin {
		writeJSON(w, http.StatusOK, map[string]string{"view": string(view)})
		return
	}

	current, err := h.ctrl.View(id)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// Events streams the session view and the inspections and users snapshots as server-sent events,
// once on connect and again after every change.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	changes, stop := h.ctrl.State().Listen()
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		alive := h.push(w, id)
		flusher.Flush()
		if !alive || !awaitChange(r.Context(), w, flusher, changes, keepAlive.C) {
			return
		}
	}
}

// awaitChange blocks until the snapshots change, writing keep-alive comments meanwhile.
// It reports false when the client has gone.
func awaitChange(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, changes <-chan struct{}, tick <-chan time.Time) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-changes:
			return true
		case <-tick:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// push writes one round of events. It reports false once the session has gone.
func (h *SessionHandler) push(w http.ResponseWriter, id string) bool {
	view, err := h.ctrl.View(id)
	if err != nil {
		writeEvent(w, "logout", map[string]string{"view": string(models.ViewLogin)})
		return false
	}
	writeEvent(w, "session", view)
	writeEvent(w, "inspections", h.ctrl.State().Inspections())
	writeEvent(w, "users", h.ctrl.LoginUsers())
	return true
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
