package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/service"
)

// maxUploadBytes bounds a schedule mutation request including the asset file.
const maxUploadBytes = 12 << 20

// ScheduleHandlers exposes schedule CRUD. Create and update accept either a
// plain JSON body or a multipart form with a "schedule" JSON part and an
// "asset" file part.
type ScheduleHandlers struct {
	Svc *service.ScheduleService
}

func registerScheduleRoutes(mux *http.ServeMux, h *ScheduleHandlers) {
	mux.HandleFunc("POST /api/v1/schedules", h.create)
	mux.HandleFunc("GET /api/v1/schedules", h.list)
	mux.HandleFunc("GET /api/v1/schedules/{id}", h.get)
	mux.HandleFunc("PUT /api/v1/schedules/{id}", h.update)
	mux.HandleFunc("DELETE /api/v1/schedules/{id}", h.delete)
}

func (h *ScheduleHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateScheduleRequest
	upload, ok := decodeScheduleBody(w, r, &req)
	if !ok {
		return
	}
	if upload != nil {
		defer upload.close()
	}

	schedule, err := h.Svc.Create(r.Context(), &req, upload.toService())
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, schedule)
}

func (h *ScheduleHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	schedules, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (h *ScheduleHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	schedule, err := h.Svc.GetByID(r.Context(), id)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandlers) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	var req model.UpdateScheduleRequest
	upload, ok := decodeScheduleBody(w, r, &req)
	if !ok {
		return
	}
	if upload != nil {
		defer upload.close()
	}

	schedule, err := h.Svc.Update(r.Context(), id, req, upload.toService())
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, schedule)
}

func (h *ScheduleHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	ok, err := h.Svc.Delete(r.Context(), id)
	if err != nil {
		writeScheduleError(w, err)
		return
	}
	if !ok {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: data.ErrScheduleNotFound})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fileUpload pairs an opened multipart file with its name.
type fileUpload struct {
	name string
	file multipart.File
}

func (u *fileUpload) close() {
	if u != nil && u.file != nil {
		_ = u.file.Close()
	}
}

func (u *fileUpload) toService() *service.AssetUpload {
	if u == nil {
		return nil
	}
	return &service.AssetUpload{FileName: u.name, Content: u.file}
}

// decodeScheduleBody decodes the request into dst and returns the optional
// asset upload. On failure the error response is already written.
func decodeScheduleBody(w http.ResponseWriter, r *http.Request, dst any) (*fileUpload, bool) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return nil, DecodeJSON(w, r, dst)
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return nil, false
	}

	blob := r.FormValue("schedule")
	if blob == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_multipart",
			Err:     fmt.Errorf(`multipart body requires a "schedule" JSON part`),
		})
		return nil, false
	}
	if err := json.Unmarshal([]byte(blob), dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return nil, false
	}

	file, header, err := r.FormFile("asset")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return nil, false
	}
	return &fileUpload{name: header.Filename, file: file}, true
}

func writeBadID(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusBadRequest,
		ErrCode: "invalid_id",
		Err:     fmt.Errorf("id must be a positive integer"),
	})
}

func writeScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrScheduleNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case errors.Is(err, data.ErrProjectNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: err})
	}
}
