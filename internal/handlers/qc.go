package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/services"
	"github.com/veldtlab/chromalab-backend/internal/types"
)

type QCHandler struct {
	qcService services.QCService
}

func NewQCHandler(qcService services.QCService) *QCHandler {
	return &QCHandler{qcService: qcService}
}

func (h *QCHandler) UpsertTarget(c *gin.Context) {
	var req struct {
		Analyte      string     `json:"analyte"`
		MethodID     uuid.UUID  `json:"method_id"`
		InstrumentID *uuid.UUID `json:"instrument_id,omitempty"`
		Mean         float64    `json:"mean"`
		SD           float64    `json:"sd"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	target, err := h.qcService.UpsertTarget(c.Request.Context(), &types.QCTarget{
		Analyte:      req.Analyte,
		MethodID:     req.MethodID,
		InstrumentID: req.InstrumentID,
		Mean:         req.Mean,
		SD:           req.SD,
	})
	if err != nil {
		RespondError(c, http.StatusBadRequest, "upsert_failed", err)
		return
	}
	RespondOK(c, target)
}

func (h *QCHandler) ListTargets(c *gin.Context) {
	methodID, err := uuid.Parse(c.Query("method_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_method_id", err)
		return
	}
	targets, err := h.qcService.ListTargets(c.Request.Context(), methodID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, targets)
}

func (h *QCHandler) DeleteTarget(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	if err := h.qcService.DeleteTarget(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusBadRequest, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *QCHandler) History(c *gin.Context) {
	methodID, err := uuid.Parse(c.Query("method_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_method_id", err)
		return
	}
	analyte := c.Query("analyte")
	if analyte == "" {
		RespondError(c, http.StatusBadRequest, "bad_analyte", nil)
		return
	}
	var instrumentID *uuid.UUID
	if v := c.Query("instrument_id"); v != "" {
		id, pErr := uuid.Parse(v)
		if pErr != nil {
			RespondError(c, http.StatusBadRequest, "bad_instrument_id", pErr)
			return
		}
		instrumentID = &id
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, aErr := strconv.Atoi(v)
		if aErr != nil || n < 0 {
			RespondError(c, http.StatusBadRequest, "bad_limit", aErr)
			return
		}
		limit = n
	}

	records, err := h.qcService.History(c.Request.Context(), analyte, methodID, instrumentID, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, records)
}

// Override is mounted behind middleware.RequireRole("supervisor", "admin").
func (h *QCHandler) Override(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.qcService.Override(c.Request.Context(), id, req.Reason); err != nil {
		RespondError(c, http.StatusBadRequest, "override_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}
