package offer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

var (
	// ErrNoProducts is returned for a card without products
	ErrNoProducts = errors.New("card has no products to offer")

	// ErrMissingFoxUser is returned when the card has no marketplace user id
	ErrMissingFoxUser = errors.New("card has no marketplace user id")
)

// Success describes an offer the marketplace accepted.
type Success struct {
	Product  string          `json:"produto"`
	Shipment string          `json:"embarque"`
	Price    float64         `json:"preco"`
	OfferID  string          `json:"offerId"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Failure describes a product or price entry that could not be offered.
type Failure struct {
	Product  string   `json:"produto"`
	Shipment string   `json:"embarque,omitempty"`
	Price    *float64 `json:"preco,omitempty"`
	Error    string   `json:"error"`
}

// Summary counts the attempted offers.
type Summary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Results is the outcome of processing one card.
type Results struct {
	Success []Success `json:"success"`
	Failed  []Failure `json:"failed"`
	Summary Summary   `json:"summary"`
}

// Publisher sends offers to the marketplace.
type Publisher interface {
	Process(ctx context.Context, card *domain.PriceCard) (*Results, error)
}

// Service posts offers to {baseURL}/api/offers/simpleoffers.
type Service struct {
	baseURL    string
	httpClient *http.Client
	mapper     *Mapper
	logger     *slog.Logger
}

func NewService(baseURL string, timeout time.Duration, mapper *Mapper, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		mapper:     mapper,
		logger:     logger,
	}
}

// Process offers every price entry with a BRL price. Products without an
// address id are reported as failed without touching the marketplace; entries
// without a BRL price are skipped and not counted.
func (s *Service) Process(ctx context.Context, card *domain.PriceCard) (*Results, error) {
	if len(card.Products) == 0 {
		return nil, ErrNoProducts
	}
	if strings.TrimSpace(card.FoxUserID) == "" {
		return nil, ErrMissingFoxUser
	}

	res := &Results{Success: []Success{}, Failed: []Failure{}}

	for _, product := range card.Products {
		if product.FoxAddressID == "" {
			res.Failed = append(res.Failed, Failure{
				Product: product.Name,
				Error:   "product has no marketplace address id",
			})
			continue
		}

		for _, entry := range product.PriceEntries {
			if entry.PriceBRL == nil || *entry.PriceBRL == 0 {
				s.logger.Debug("Skipping price entry without BRL price",
					slog.String("product", product.Name),
					slog.String("shipment", entry.Shipment))
				continue
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}

			res.Summary.Total++
			offer := s.mapper.Map(card, product, entry)

			offerID, raw, err := s.create(ctx, offer)
			if err != nil {
				s.logger.Warn("Offer creation failed",
					slog.String("product", product.Name),
					slog.String("shipment", entry.Shipment),
					slog.String("error", err.Error()))
				res.Failed = append(res.Failed, Failure{
					Product:  product.Name,
					Shipment: entry.Shipment,
					Price:    entry.PriceBRL,
					Error:    err.Error(),
				})
				res.Summary.Failed++
				continue
			}

			res.Success = append(res.Success, Success{
				Product:  product.Name,
				Shipment: entry.Shipment,
				Price:    *entry.PriceBRL,
				OfferID:  offerID,
				Response: raw,
			})
			res.Summary.Successful++
		}
	}

	s.logger.Info("Card offers processed",
		slog.String("card_id", card.ID),
		slog.Int("total", res.Summary.Total),
		slog.Int("successful", res.Summary.Successful),
		slog.Int("failed", res.Summary.Failed))

	return res, nil
}

type createResponse struct {
	ID      json.RawMessage `json:"id"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (s *Service) create(ctx context.Context, offer Offer) (string, json.RawMessage, error) {
	body, err := json.Marshal(offer)
	if err != nil {
		return "", nil, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/offers/simpleoffers", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: read offer response: %v", domain.ErrNetwork, err)
	}

	var parsed createResponse
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode/100 != 2 {
		msg := parsed.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", nil, &domain.BackendError{StatusCode: resp.StatusCode, Message: msg}
	}
	if parsed.Status == "ERRO" {
		msg := parsed.Message
		if msg == "" {
			msg = "unknown error creating offer"
		}
		return "", nil, errors.New(msg)
	}

	offerID := idString(parsed.ID)
	if offerID == "" {
		offerID = idString(parsed.Data.ID)
	}
	if offerID == "" {
		offerID = "N/A"
	}

	if !json.Valid(raw) {
		raw = nil
	}
	return offerID, raw, nil
}

// idString accepts both string and numeric ids.
func idString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
