package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/services"
)

type AuditHandler struct {
	auditService services.AuditService
}

func NewAuditHandler(auditService services.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) ListByEntity(c *gin.Context) {
	entityType := c.Query("entity_type")
	if entityType == "" {
		RespondError(c, http.StatusBadRequest, "bad_entity_type", nil)
		return
	}
	entityID, err := uuid.Parse(c.Query("entity_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_entity_id", err)
		return
	}
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, aErr := strconv.Atoi(v)
		if aErr != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "bad_limit", aErr)
			return
		}
		limit = n
	}

	events, err := h.auditService.ListByEntity(c.Request.Context(), entityType, entityID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, events)
}
