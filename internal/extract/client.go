// Package extract turns price quote messages and card images into domain.PriceCard
// values using an OpenAI compatible chat/completions endpoint.
package extract

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
	"github.com/google/uuid"
)

// ErrInvalidOutput is returned when the model answer is not a valid price card.
var ErrInvalidOutput = errors.New("model output is not a valid price card")

// Input is what the model gets to read. ImageDataURL is sent as a vision part.
type Input struct {
	Text         string
	Filename     string
	ImageDataURL string
}

// Extractor produces a price card from an input.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*domain.PriceCard, json.RawMessage, error)
}

// Config holds the chat/completions connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client implements Extractor.
type Client struct {
	cfg        Config
	httpClient *http.Client
	validator  *Validator
	log        *slog.Logger
}

// NewClient compiles the price card schema and creates a client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	v, err := NewValidator(PriceCardSchema())
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		validator:  v,
		log:        logger,
	}, nil
}

func (c *Client) Extract(ctx context.Context, in Input) (*domain.PriceCard, json.RawMessage, error) {
	if strings.TrimSpace(in.Text) == "" && in.ImageDataURL == "" {
		return nil, nil, fmt.Errorf("%w: nothing to extract from", domain.ErrInvalidInput)
	}

	rid := uuid.New().String()
	start := time.Now()
	c.log.Info("Extraction started",
		slog.String("req_id", rid),
		slog.String("model", c.cfg.Model),
		slog.Int("text_len", len(in.Text)),
		slog.Bool("has_image", in.ImageDataURL != ""))

	var userContent any = buildUserPrompt(in.Text, in.Filename)
	if in.ImageDataURL != "" {
		userContent = []map[string]any{
			{"type": "text", "text": buildUserPrompt(in.Text, in.Filename)},
			{"type": "image_url", "image_url": map[string]any{"url": in.ImageDataURL}},
		}
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
	}

	raw, err := c.post(ctx, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		c.log.Error("Extraction request failed",
			slog.String("req_id", rid),
			slog.String("error", err.Error()),
			slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))
		return nil, nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, nil, fmt.Errorf("%w: no choices in completion response", ErrInvalidOutput)
	}

	content := []byte(stripCodeFence(cc.Choices[0].Message.Content))
	if err := c.validator.Validate(content); err != nil {
		c.log.Warn("Extraction output rejected",
			slog.String("req_id", rid),
			slog.String("error", err.Error()))
		return nil, content, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	var card domain.PriceCard
	if err := json.Unmarshal(content, &card); err != nil {
		return nil, content, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	c.log.Info("Extraction finished",
		slog.String("req_id", rid),
		slog.Int("products", len(card.Products)),
		slog.Int("price_entries", card.PriceEntryCount()),
		slog.Int64("elapsed_ms", time.Since(start).Milliseconds()))

	return &card, content, nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, "completion request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, "read completion response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.BackendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// transportError keeps context errors matchable so the job shows a timeout, not a network failure.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrNetwork, op, err)
}

// stripCodeFence removes a ```json fence some models wrap around their answer.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
