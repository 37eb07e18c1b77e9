package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/services"
)

type SampleHandler struct {
	sampleService services.SampleService
}

func NewSampleHandler(sampleService services.SampleService) *SampleHandler {
	return &SampleHandler{sampleService: sampleService}
}

func (h *SampleHandler) Create(c *gin.Context) {
	var req struct {
		Name    string                 `json:"name"`
		Kind    string                 `json:"kind"`
		Profile analysis.SampleProfile `json:"profile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	sample, err := h.sampleService.Create(c.Request.Context(), req.Name, req.Kind, req.Profile)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "create_failed", err)
		return
	}
	RespondOK(c, sample)
}

func (h *SampleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	sample, err := h.sampleService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondOK(c, sample)
}

func (h *SampleHandler) List(c *gin.Context) {
	samples, err := h.sampleService.List(c.Request.Context(), c.Query("kind"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "list_failed", err)
		return
	}
	RespondOK(c, samples)
}

func (h *SampleHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	if err := h.sampleService.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusBadRequest, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
