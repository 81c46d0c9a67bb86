package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/dto"
	"github.com/cuongbtq/pricecards/internal/api/model"
	"github.com/cuongbtq/pricecards/internal/api/storage"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateCard handles POST /api/cards
// Saves a reviewed card and, when it belongs to a marketplace user, publishes its offers
func (h *CardHandler) CreateCard(c *gin.Context) {
	var req dto.CreateCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if len(req.Products) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "card must have at least one product",
		})
		return
	}
	if req.SourceJobID != "" {
		if _, err := uuid.Parse(req.SourceJobID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "jobId must be a valid UUID",
			})
			return
		}
	}

	card := req.PriceCard
	card.ID = ""

	ctx := c.Request.Context()
	row, err := h.cards.CreateCard(ctx, &card, req.SourceJobID)
	if err != nil {
		h.logger.Error("Failed to create card", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create card",
		})
		return
	}

	h.logger.Info("Card created",
		slog.String("card_id", card.ID),
		slog.Int("products", len(card.Products)),
		slog.Int("price_entries", card.PriceEntryCount()),
	)

	resp := dto.CardResponse{
		Card:      &card,
		CreatedAt: row.CreatedAt.Format(time.RFC3339),
		UpdatedAt: row.UpdatedAt.Format(time.RFC3339),
	}

	if h.offers != nil && wantsOffers(&card) {
		results, err := h.offers.Process(ctx, &card)
		if err != nil {
			h.logger.Warn("Offer processing failed",
				slog.String("card_id", card.ID),
				slog.String("error", err.Error()),
			)
			resp.OfferError = err.Error()
		}
		resp.OfferResults = results
	}

	c.JSON(http.StatusCreated, resp)
}

// wantsOffers reports whether the card has a marketplace user and at least one addressed product.
func wantsOffers(card *domain.PriceCard) bool {
	if card.FoxUserID == "" {
		return false
	}
	for _, p := range card.Products {
		if p.FoxAddressID != "" {
			return true
		}
	}
	return false
}

// GetCard handles GET /api/cards/:id
func (h *CardHandler) GetCard(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}

	row, err := h.cards.GetCard(c.Request.Context(), id)
	if err != nil {
		h.respondStoreError(c, id, err, "Failed to get card")
		return
	}

	resp, err := cardResponse(row)
	if err != nil {
		h.respondStoreError(c, id, err, "Failed to get card")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListCards handles GET /api/cards
func (h *CardHandler) ListCards(c *gin.Context) {
	var req dto.ListCardsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	size := pageSize(req.PageSize)
	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	rows, err := h.cards.ListCards(c.Request.Context(), storage.CardFilter{
		FoxUserID: req.FoxUserID,
		PageSize:  size,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list cards", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list cards",
		})
		return
	}

	hasMore := len(rows) > size
	if hasMore {
		rows = rows[:size]
	}

	cards := make([]dto.CardResponse, 0, len(rows))
	for i := range rows {
		resp, err := cardResponse(&rows[i])
		if err != nil {
			h.logger.Warn("Skipping undecodable card", slog.String("card_id", rows[i].CardID), slog.String("error", err.Error()))
			continue
		}
		cards = append(cards, *resp)
	}

	var nextCursor string
	if hasMore {
		last := rows[len(rows)-1]
		nextCursor = EncodeCursor(last.CreatedAt, last.CardID)
	}

	c.JSON(http.StatusOK, dto.ListCardsResponse{
		Cards:      cards,
		NextCursor: nextCursor,
	})
}

// UpdateCard handles PUT /api/cards/:id
func (h *CardHandler) UpdateCard(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}

	var card domain.PriceCard
	if err := c.ShouldBindJSON(&card); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}
	card.ID = id

	row, err := h.cards.UpdateCard(c.Request.Context(), &card)
	if err != nil {
		h.respondStoreError(c, id, err, "Failed to update card")
		return
	}

	resp, err := cardResponse(row)
	if err != nil {
		h.respondStoreError(c, id, err, "Failed to update card")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteCard handles DELETE /api/cards/:id
func (h *CardHandler) DeleteCard(c *gin.Context) {
	id, ok := cardID(c)
	if !ok {
		return
	}

	if err := h.cards.DeleteCard(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, id, err, "Failed to delete card")
		return
	}

	h.logger.Info("Card deleted", slog.String("card_id", id))
	c.Status(http.StatusNoContent)
}

func cardID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func cardResponse(row *model.Card) (*dto.CardResponse, error) {
	card, err := row.PriceCard()
	if err != nil {
		return nil, err
	}
	return &dto.CardResponse{
		Card:      card,
		CreatedAt: row.CreatedAt.Format(time.RFC3339),
		UpdatedAt: row.UpdatedAt.Format(time.RFC3339),
	}, nil
}

func (h *CardHandler) respondStoreError(c *gin.Context, id string, err error, msg string) {
	if errors.Is(err, domain.ErrCardNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "card not found",
		})
		return
	}
	h.logger.Error(msg, slog.String("card_id", id), slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": msg,
	})
}
