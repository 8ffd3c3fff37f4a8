package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/perfdeck/perfdeck/internal/core"
	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/domain/model"
	"github.com/perfdeck/perfdeck/internal/service"
)

// RunHandlers exposes the execution endpoints and run queries.
type RunHandlers struct {
	Svc     *service.TestRunService
	Reports core.ReportGenerator
}

func registerRunRoutes(mux *http.ServeMux, h *RunHandlers) {
	mux.HandleFunc("POST /api/v1/runs/{subtype}/{projectID}", h.start)
	mux.HandleFunc("GET /api/v1/runs/{id}", h.get)
	mux.HandleFunc("GET /api/v1/runs/{id}/detail", h.detail)
	mux.HandleFunc("POST /api/v1/runs/{id}/report", h.report)
	mux.HandleFunc("GET /api/v1/projects/{id}/runs", h.listByProject)
}

// start fires one execution. Scheduled firings and interactive clients hit
// this same route; the scheduler adds ?scheduleId=N.
func (h *RunHandlers) start(w http.ResponseWriter, r *http.Request) {
	subtype, ok := model.ParseTestSubtype(r.PathValue("subtype"))
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_subtype",
			Err:     fmt.Errorf("subtype must be one of: postman, quick, script"),
		})
		return
	}

	params := service.StartRunParams{
		ProjectID: r.PathValue("projectID"),
		Subtype:   subtype,
	}
	if raw := r.URL.Query().Get("scheduleId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_schedule_id",
				Err:     fmt.Errorf("scheduleId must be a positive integer"),
			})
			return
		}
		params.ScheduleID = &id
	}

	// Optional ad-hoc config body.
	if body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20)); err == nil && len(body) > 0 {
		if !json.Valid(body) {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_json",
				Err:     fmt.Errorf("config body must be valid JSON"),
			})
			return
		}
		params.Config = body
	}

	res, err := h.Svc.Start(r.Context(), params)
	if err != nil {
		writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, res)
}

func (h *RunHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	run, err := h.Svc.GetByID(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

func (h *RunHandlers) detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	detail, err := h.Svc.Detail(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	if detail.Run == nil {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: data.ErrTestRunNotFound})
		return
	}
	WriteJSON(w, http.StatusOK, detail)
}

// report generates the report artifact for a finished run on demand.
func (h *RunHandlers) report(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadID(w)
		return
	}
	detail, err := h.Svc.Detail(r.Context(), id)
	if err != nil {
		writeRunError(w, err)
		return
	}
	if detail.Run == nil {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: data.ErrTestRunNotFound})
		return
	}
	path, err := h.Reports.Generate(r.Context(), detail)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusUnprocessableEntity, ErrCode: "report_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{"report_path": path})
}

func (h *RunHandlers) listByProject(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	runs, err := h.Svc.ListByProject(r.Context(), r.PathValue("id"), limit, offset)
	if err != nil {
		writeRunError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrTestRunNotFound),
		errors.Is(err, data.ErrProjectNotFound),
		errors.Is(err, data.ErrScheduleNotFound):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case errors.Is(err, service.ErrNoRunnableAsset):
		WriteError(w, ErrorParams{Code: http.StatusUnprocessableEntity, ErrCode: "no_asset", Err: err})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_request", Err: err})
	}
}
