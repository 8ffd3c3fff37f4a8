package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/service"
)

// AssetHandlers exposes project-default asset management. Schedule-owned
// assets are managed through the schedule endpoints.
type AssetHandlers struct {
	Svc *service.AssetService
}

func registerAssetRoutes(mux *http.ServeMux, h *AssetHandlers) {
	mux.HandleFunc("POST /api/v1/projects/{id}/assets", h.upload)
	mux.HandleFunc("GET /api/v1/assets/{id}", h.get)
	mux.HandleFunc("DELETE /api/v1/assets/{id}", h.delete)
}

// upload registers a project-default test asset from a multipart form with a
// "file" part and a "subtype" field.
func (h *AssetHandlers) upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return
	}
	subtype, ok := model.ParseTestSubtype(r.FormValue("subtype"))
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_subtype",
			Err:     fmt.Errorf("subtype must be one of: postman, quick, script"),
		})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return
	}
	defer file.Close()

	asset, err := h.Svc.Upload(r.Context(), service.UploadAssetParams{
		ProjectID: r.PathValue("id"),
		Subtype:   subtype,
		FileName:  header.Filename,
		Content:   file,
	})
	if err != nil {
		writeAssetError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, asset)
}

func (h *AssetHandlers) get(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAssetError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, asset)
}

func (h *AssetHandlers) delete(w http.ResponseWriter, r *http.Request) {
	asset, err := h.Svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAssetError(w, err)
		return
	}
	ok, err := h.Svc.Delete(r.Context(), asset)
	if err != nil {
		writeAssetError(w, err)
		return
	}
	if !ok {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: data.ErrAssetNotFound})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAssetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrAssetNotFound), errors.Is(err, data.ErrProjectNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: err})
	}
}
