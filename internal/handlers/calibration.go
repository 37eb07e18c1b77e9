package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veldtlab/chromalab-backend/internal/services"
)

type CalibrationHandler struct {
	calibrationService services.CalibrationService
}

func NewCalibrationHandler(calibrationService services.CalibrationService) *CalibrationHandler {
	return &CalibrationHandler{calibrationService: calibrationService}
}

func (h *CalibrationHandler) Fit(c *gin.Context) {
	var req services.FitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	model, err := h.calibrationService.Fit(c.Request.Context(), req)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "fit_failed", err)
		return
	}
	RespondOK(c, model)
}

func (h *CalibrationHandler) Activate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}
	if err := h.calibrationService.Activate(c.Request.Context(), id); err != nil {
		RespondError(c, http.StatusBadRequest, "activate_failed", err)
		return
	}
	RespondOK(c, gin.H{"success": true})
}

func (h *CalibrationHandler) History(c *gin.Context) {
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
	models, err := h.calibrationService.ListHistory(c.Request.Context(), methodID, analyte)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	RespondOK(c, models)
}
