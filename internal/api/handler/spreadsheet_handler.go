package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/pricecards/internal/api/dto"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/spreadsheet"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Generate handles POST /api/spreadsheet/generate
func (h *SpreadsheetHandler) Generate(c *gin.Context) {
	var req dto.GenerateSpreadsheetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "cardIds is required",
		})
		return
	}

	for _, id := range req.CardIDs {
		if _, err := uuid.Parse(id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("card id %q is not a valid UUID", id),
			})
			return
		}
	}

	data, filename, err := h.spreadsheets.Generate(c.Request.Context(), req.CardIDs, req.Template)
	if err != nil {
		switch {
		case errors.Is(err, spreadsheet.ErrUnknownTemplate), errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrCardNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no cards found"})
		default:
			h.logger.Error("Failed to generate spreadsheet", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate spreadsheet"})
		}
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// Templates handles GET /api/spreadsheet/templates
func (h *SpreadsheetHandler) Templates(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"templates": spreadsheet.Templates(),
	})
}
