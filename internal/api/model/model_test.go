package model

import (
	"testing"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCard(t *testing.T) {
	price := 68.5
	card := &domain.PriceCard{
		ID:            "0f8fad5b-d9cb-469f-a165-70867728950e",
		Title:         "Cotação",
		ReferenceDate: "10/03/2025",
		FoxUserID:     "fox-1",
		Products: []domain.Product{
			{Name: "SOJA", PriceEntries: []domain.PriceEntry{{Shipment: "mai/25", PriceBRL: &price}}},
		},
	}

	row, err := NewCard(card, "")
	require.NoError(t, err)
	assert.Equal(t, card.ID, row.CardID)
	assert.Equal(t, "fox-1", row.FoxUserID)
	assert.False(t, row.SourceJobID.Valid)

	row, err = NewCard(card, "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	require.NoError(t, err)
	assert.True(t, row.SourceJobID.Valid)
}

func TestCard_PriceCardUsesRowID(t *testing.T) {
	row := &Card{
		CardID: "row-id",
		Body:   []byte(`{"id":"stale","titulo":"Cotação","data":"10/03/2025","produtos":[]}`),
	}

	card, err := row.PriceCard()
	require.NoError(t, err)
	assert.Equal(t, "row-id", card.ID)
	assert.Equal(t, "Cotação", card.Title)

	row.Body = []byte(`{`)
	_, err = row.PriceCard()
	assert.Error(t, err)
}
