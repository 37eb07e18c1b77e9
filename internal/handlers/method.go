package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/analysis"
	"github.com/veldtlab/chromalab-backend/internal/services"
)

type MethodHandler struct {
	methodService services.MethodService
}

func NewMethodHandler(methodService services.MethodService) *MethodHandler {
	return &MethodHandler{methodService: methodService}
}

func (h *MethodHandler) Create(c *gin.Context) {
	var req struct {
		Name        string                    `json:"name"`
		Description string                    `json:"description"`
		Parameters  analysis.MethodParameters `json:"parameters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	method, err := h.methodService.Create(c.Request.Context(), req.Name, req.Description, req.Parameters)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "create_failed", err)
		return
	}
	RespondOK(c, method)
}

func (h *MethodHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	method, err := h.methodService.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, http.StatusNotFound, "not_found", err)
		return
	}
	RespondOK(c, method)
}

func (h *MethodHandler) List(c *gin.Context) {
	methods, err := h.methodService.List(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, methods)
}

func (h *MethodHandler) UpdateParameters(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	var req struct {
		Parameters analysis.MethodParameters `json:"parameters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.methodService.UpdateParameters(c.Request.Context(), id, req.Parameters); err != nil {
		RespondError(c, http.StatusBadRequest, "update_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *MethodHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	if err := h.methodService.Delete(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusBadRequest, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
