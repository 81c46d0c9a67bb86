package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/cuongbtq/pricecards/internal/api/dto"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/offer"
	"github.com/cuongbtq/pricecards/internal/spreadsheet"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cardFixture struct {
	cards  *fakeCardStore
	offers *fakeOffers
	r      *gin.Engine
}

func newCardFixture() *cardFixture {
	f := &cardFixture{
		cards:  newFakeCardStore(),
		offers: &fakeOffers{},
	}
	deps := &Dependencies{
		Logger:       discardLogger(),
		Cards:        f.cards,
		Offers:       f.offers,
		Spreadsheets: spreadsheet.NewService(f.cards, discardLogger()),
	}
	ch := NewCardHandler(deps)
	sh := NewSpreadsheetHandler(deps)

	f.r = gin.New()
	f.r.POST("/api/cards", ch.CreateCard)
	f.r.GET("/api/cards", ch.ListCards)
	f.r.GET("/api/cards/:id", ch.GetCard)
	f.r.PUT("/api/cards/:id", ch.UpdateCard)
	f.r.DELETE("/api/cards/:id", ch.DeleteCard)
	f.r.POST("/api/spreadsheet/generate", sh.Generate)
	f.r.GET("/api/spreadsheet/templates", sh.Templates)
	return f
}

func sampleCard() domain.PriceCard {
	return domain.PriceCard{
		Title:         "Cotação Cerrado",
		ReferenceDate: "10/03/2025",
		USDRate:       ptr(5.72),
		Products: []domain.Product{
			{
				Name:     "MILHO",
				Modality: "FOB",
				Location: "Rio Verde/GO",
				PriceEntries: []domain.PriceEntry{
					{Shipment: "mar/25", PaymentDate: "15/04/2025", PriceBRL: ptr(68.0)},
					{Shipment: "abr/25", PaymentDate: "15/05/2025", PriceBRL: ptr(69.5)},
				},
			},
		},
	}
}

func TestCreateCard_WithoutMarketplaceUser(t *testing.T) {
	f := newCardFixture()

	w := doJSON(t, f.r, http.MethodPost, "/api/cards", sampleCard())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CardResponse
	decodeBody(t, w, &resp)
	require.NotNil(t, resp.Card)
	_, err := uuid.Parse(resp.Card.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cotação Cerrado", resp.Card.Title)
	assert.Nil(t, resp.OfferResults)
	assert.Equal(t, 0, f.offers.calls)
}

func TestCreateCard_PublishesOffers(t *testing.T) {
	f := newCardFixture()
	f.offers.results = &offer.Results{
		Success: []offer.Success{{Product: "MILHO", Shipment: "mar/25", Price: 68, OfferID: "991"}},
		Failed:  []offer.Failure{},
		Summary: offer.Summary{Total: 1, Successful: 1},
	}

	card := sampleCard()
	card.FoxUserID = "fox-42"
	card.Products[0].FoxAddressID = "addr-7"

	jobID := uuid.New().String()
	w := doJSON(t, f.r, http.MethodPost, "/api/cards", dto.CreateCardRequest{PriceCard: card, SourceJobID: jobID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp dto.CardResponse
	decodeBody(t, w, &resp)
	require.NotNil(t, resp.OfferResults)
	assert.Equal(t, 1, resp.OfferResults.Summary.Successful)
	assert.Equal(t, 1, f.offers.calls)
	assert.Empty(t, resp.OfferError)

	row := f.cards.cards[resp.Card.ID]
	require.NotNil(t, row)
	assert.Equal(t, jobID, row.SourceJobID.String)
	assert.Equal(t, "fox-42", row.FoxUserID)
}

func TestCreateCard_OfferFailureStillSavesCard(t *testing.T) {
	f := newCardFixture()
	f.offers.err = errors.New("marketplace unavailable")

	card := sampleCard()
	card.FoxUserID = "fox-42"
	card.Products[0].FoxAddressID = "addr-7"

	w := doJSON(t, f.r, http.MethodPost, "/api/cards", card)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.CardResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, "marketplace unavailable", resp.OfferError)
	assert.Len(t, f.cards.cards, 1)
}

func TestCreateCard_Validation(t *testing.T) {
	f := newCardFixture()

	w := doJSON(t, f.r, http.MethodPost, "/api/cards", domain.PriceCard{Title: "vazio"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, f.r, http.MethodPost, "/api/cards", dto.CreateCardRequest{PriceCard: sampleCard(), SourceJobID: "job-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, f.cards.cards)
}

func TestCardCRUD(t *testing.T) {
	f := newCardFixture()

	w := doJSON(t, f.r, http.MethodPost, "/api/cards", sampleCard())
	require.Equal(t, http.StatusCreated, w.Code)
	var created dto.CardResponse
	decodeBody(t, w, &created)
	id := created.Card.ID

	w = doJSON(t, f.r, http.MethodGet, "/api/cards/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got dto.CardResponse
	decodeBody(t, w, &got)
	assert.Equal(t, id, got.Card.ID)
	require.Len(t, got.Card.Products, 1)
	assert.Equal(t, 2, got.Card.PriceEntryCount())

	updated := sampleCard()
	updated.Title = "Cotação revisada"
	w = doJSON(t, f.r, http.MethodPut, "/api/cards/"+id, updated)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &got)
	assert.Equal(t, "Cotação revisada", got.Card.Title)
	assert.Equal(t, id, got.Card.ID)

	w = doJSON(t, f.r, http.MethodGet, "/api/cards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list dto.ListCardsResponse
	decodeBody(t, w, &list)
	require.Len(t, list.Cards, 1)
	assert.Empty(t, list.NextCursor)

	w = doJSON(t, f.r, http.MethodDelete, "/api/cards/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, f.r, http.MethodGet, "/api/cards/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, f.r, http.MethodPut, "/api/cards/"+uuid.New().String(), updated)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, f.r, http.MethodGet, "/api/cards/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSpreadsheetGenerate(t *testing.T) {
	f := newCardFixture()

	w := doJSON(t, f.r, http.MethodPost, "/api/cards", sampleCard())
	require.Equal(t, http.StatusCreated, w.Code)
	var created dto.CardResponse
	decodeBody(t, w, &created)

	t.Run("standard workbook", func(t *testing.T) {
		w := doJSON(t, f.r, http.MethodPost, "/api/spreadsheet/generate", dto.GenerateSpreadsheetRequest{
			CardIDs: []string{created.Card.ID},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "planilha_graos_standard_")
		// xlsx files are zip archives
		assert.Equal(t, "PK", string(w.Body.Bytes()[:2]))
	})

	tests := []struct {
		name string
		req  dto.GenerateSpreadsheetRequest
		want int
	}{
		{name: "unknown template", req: dto.GenerateSpreadsheetRequest{CardIDs: []string{created.Card.ID}, Template: "pivot"}, want: http.StatusBadRequest},
		{name: "invalid id", req: dto.GenerateSpreadsheetRequest{CardIDs: []string{"card-1"}}, want: http.StatusBadRequest},
		{name: "no ids", req: dto.GenerateSpreadsheetRequest{}, want: http.StatusBadRequest},
		{name: "unknown cards", req: dto.GenerateSpreadsheetRequest{CardIDs: []string{uuid.New().String()}}, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, f.r, http.MethodPost, "/api/spreadsheet/generate", tt.req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestSpreadsheetTemplates(t *testing.T) {
	f := newCardFixture()

	w := doJSON(t, f.r, http.MethodGet, "/api/spreadsheet/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Templates []spreadsheet.Template `json:"templates"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Templates, 3)
	assert.Equal(t, spreadsheet.TemplateStandard, resp.Templates[0].ID)
}
