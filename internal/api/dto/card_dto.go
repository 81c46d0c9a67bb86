package dto

import (
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/offer"
)

// CreateCardRequest is a reviewed price card, optionally linked to the job it was extracted by.
type CreateCardRequest struct {
	domain.PriceCard
	SourceJobID string `json:"jobId,omitempty"`
}

type CardResponse struct {
	Card         *domain.PriceCard `json:"card"`
	CreatedAt    string            `json:"created_at"`
	UpdatedAt    string            `json:"updated_at"`
	OfferResults *offer.Results    `json:"offerResults,omitempty"`
	OfferError   string            `json:"offerError,omitempty"`
}

type ListCardsRequest struct {
	FoxUserID string `form:"fox_user_id"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListCardsResponse struct {
	Cards      []CardResponse `json:"cards"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type GenerateSpreadsheetRequest struct {
	CardIDs  []string `json:"cardIds" binding:"required,min=1"`
	Template string   `json:"template"`
}
