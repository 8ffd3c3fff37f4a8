package httpx

import (
	"errors"
	"net/http"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/service"
)

// ProjectHandlers exposes project CRUD.
type ProjectHandlers struct {
	Svc *service.ProjectService
}

func registerProjectRoutes(mux *http.ServeMux, h *ProjectHandlers) {
	mux.HandleFunc("POST /api/v1/projects", h.create)
	mux.HandleFunc("GET /api/v1/projects", h.list)
	mux.HandleFunc("GET /api/v1/projects/{id}", h.get)
	mux.HandleFunc("PUT /api/v1/projects/{id}", h.update)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", h.delete)
}

func (h *ProjectHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: err})
		return
	}
	project, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		writeProjectError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, project)
}

func (h *ProjectHandlers) list(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	projects, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		writeProjectError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (h *ProjectHandlers) get(w http.ResponseWriter, r *http.Request) {
	project, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

func (h *ProjectHandlers) update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateProjectRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: err})
		return
	}
	project, err := h.Svc.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeProjectError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, project)
}

func (h *ProjectHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.Svc.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		writeProjectError(w, err)
		return
	}
	if !ok {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: data.ErrProjectNotFound})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeProjectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrProjectNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case errors.Is(err, data.ErrProjectNameExists):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "name_exists", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "internal_error", Err: err})
	}
}
