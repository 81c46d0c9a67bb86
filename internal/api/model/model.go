package model

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

// Card is a row of price_cards. The reviewed card itself lives in Body.
type Card struct {
	CardID        string          `db:"card_id"`
	Title         string          `db:"title"`
	ReferenceDate string          `db:"reference_date"`
	FoxUserID     string          `db:"fox_user_id"`
	SourceJobID   sql.NullString  `db:"source_job_id"`
	Body          json.RawMessage `db:"body"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// NewCard builds the row for card, denormalizing the columns used for listing.
func NewCard(card *domain.PriceCard, sourceJobID string) (*Card, error) {
	body, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal card: %w", err)
	}
	row := &Card{
		CardID:        card.ID,
		Title:         card.Title,
		ReferenceDate: card.ReferenceDate,
		FoxUserID:     card.FoxUserID,
		Body:          body,
	}
	if sourceJobID != "" {
		row.SourceJobID = sql.NullString{String: sourceJobID, Valid: true}
	}
	return row, nil
}

// PriceCard decodes Body and stamps the row id on it.
func (c *Card) PriceCard() (*domain.PriceCard, error) {
	var card domain.PriceCard
	if err := json.Unmarshal(c.Body, &card); err != nil {
		return nil, fmt.Errorf("failed to decode card %s: %w", c.CardID, err)
	}
	card.ID = c.CardID
	return &card, nil
}
