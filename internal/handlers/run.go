package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/repos"
	"github.com/veldtlab/chromalab-backend/internal/services"
)

type RunHandler struct {
	analysisService services.AnalysisService
}

func NewRunHandler(analysisService services.AnalysisService) *RunHandler {
	return &RunHandler{analysisService: analysisService}
}

func (h *RunHandler) Start(c *gin.Context) {
	var req services.StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	artifacts, err := h.analysisService.StartRun(c.Request.Context(), req)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "run_failed", err)
		return
	}
	RespondOK(c, artifacts)
}

func (h *RunHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	run, err := h.analysisService.GetRun(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondOK(c, run)
}

func (h *RunHandler) List(c *gin.Context) {
	var filter repos.RunFilter
	if v := c.Query("method_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_method_id", err)
			return
		}
		filter.MethodID = id
	}
	if v := c.Query("sample_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_sample_id", err)
			return
		}
		filter.SampleID = id
	}
	if v := c.Query("instrument_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_instrument_id", err)
			return
		}
		filter.InstrumentID = id
	}
	filter.Status = c.Query("status")
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "bad_limit", err)
			return
		}
		filter.Limit = n
	}

	runs, err := h.analysisService.ListRuns(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, runs)
}

func (h *RunHandler) RenderPNG(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	buf, err := h.analysisService.RenderRun(c.Request.Context(), id, c.Query("detector"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "render_failed", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}
