package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"locoinspect/controller"
	"locoinspect/history"
	"locoinspect/inspection"
	"locoinspect/middleware"
	"locoinspect/models"

	"go.uber.org/zap"
)

// maxPhotoBytes bounds a multipart photo upload.
const maxPhotoBytes = 10 << 20

type InspectionHandler struct {
	ctrl    *controller.Controller
	appName string
	logger  *zap.Logger
}

func NewInspectionHandler(ctrl *controller.Controller, appName string, logger *zap.Logger) *InspectionHandler {
	return &InspectionHandler{ctrl: ctrl, appName: appName, logger: logger}
}

func filterFromQuery(r *http.Request) history.Filter {
	q := r.URL.Query()
	return history.Filter{
		Loco: strings.TrimSpace(q.Get("loco")),
		Date: strings.TrimSpace(q.Get("date")),
	}
}

type InspectionListResponse struct {
	Inspections []models.Inspection `json:"inspections"`
	Count       int                 `json:"count"`
	Total       int                 `json:"total"`
}

// List returns the current inspections, newest first, narrowed by the loco and date query parameters
func (h *InspectionHandler) List(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	filtered, err := h.ctrl.Inspections(filterFromQuery(r))
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, InspectionListResponse{
		Inspections: filtered,
		Count:       len(filtered),
		Total:       len(h.ctrl.State().Inspections()),
	})
}

// Export downloads the filtered inspections as csv, html or xlsx (format query parameter)
func (h *InspectionHandler) Export(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	format, err := history.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	export, err := h.ctrl.Export(id, filterFromQuery(r))
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	export.AppName = h.appName

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, format.FileName(export.GeneratedAt)))
	if err := export.Write(w, format); err != nil {
		h.logger.Error("Failed to write export", zap.String("format", string(format)), zap.Error(err))
	}
}

type SelectPhotoRequest struct {
	Photo string `json:"photo"` // data URL
}

// SelectPhoto puts a photo up for review. It accepts a JSON data URL or a multipart "photo" file.
func (h *InspectionHandler) SelectPhoto(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, "Session not found in context", http.StatusUnauthorized)
		return
	}

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
		file, _, ferr := r.FormFile("photo")
		if ferr != nil {
			writeError(w, "Photo file is required", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, rerr := io.ReadAll(file)
		if rerr != nil {
			writeError(w, "Failed to read photo", http.StatusBadRequest)
			return
		}
		err = session.Form().SelectPhotoBytes(data)
	} else {
		var req SelectPhotoRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		err = session.Form().SelectPhoto(req.Photo)
	}
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, session.Form().Snapshot())
}

// ConfirmPhoto accepts the photo under review
func (h *InspectionHandler) ConfirmPhoto(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, "Session not found in context", http.StatusUnauthorized)
		return
	}
	if err := session.Form().Confirm(); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Form().Snapshot())
}

// RetakePhoto discards the current photo and reopens the picker
func (h *InspectionHandler) RetakePhoto(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	session, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, "Session not found in context", http.StatusUnauthorized)
		return
	}
	session.Form().Retake()
	writeJSON(w, http.StatusOK, session.Form().Snapshot())
}

// Submit saves the capture form
func (h *InspectionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var fields inspection.Fields
	if !decodeJSON(w, r, &fields) {
		return
	}

	saved, err := h.ctrl.SubmitInspection(r.Context(), id, fields)
	if err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

type DeleteInspectionRequest struct {
	ID string `json:"id"`
}

// Delete removes an inspection named by the id query parameter or JSON body
func (h *InspectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}
	sid, ok := sessionID(w, r)
	if !ok {
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		var req DeleteInspectionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		id = req.ID
	}
	if id == "" {
		writeError(w, "Inspection id is required", http.StatusBadRequest)
		return
	}

	if err := h.ctrl.DeleteInspection(r.Context(), sid, id); err != nil {
		writeActionError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Inspection deleted successfully"})
}
