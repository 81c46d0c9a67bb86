package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/model"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const cardColumns = `card_id, title, reference_date, fox_user_id, source_job_id, body, created_at, updated_at`

type CardFilter struct {
	FoxUserID string
	PageSize  int
	Cursor    *Cursor
}

// CreateCard persists card and assigns it an id when it has none.
func (s *Storage) CreateCard(ctx context.Context, card *domain.PriceCard, sourceJobID string) (*model.Card, error) {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}

	row, err := model.NewCard(card, sourceJobID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row.CreatedAt = now
	row.UpdatedAt = now

	// body goes over the wire as text; lib/pq would send []byte as bytea
	query := `
		INSERT INTO price_cards (
			card_id, title, reference_date, fox_user_id,
			source_job_id, body, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`
	_, err = s.db.ExecContext(ctx, query,
		row.CardID, row.Title, row.ReferenceDate, row.FoxUserID,
		row.SourceJobID, string(row.Body), row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create card: %w", err)
	}

	return row, nil
}

func (s *Storage) GetCard(ctx context.Context, cardID string) (*model.Card, error) {
	var row model.Card
	err := s.db.GetContext(ctx, &row, `SELECT `+cardColumns+` FROM price_cards WHERE card_id = $1`, cardID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCardNotFound
		}
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &row, nil
}

func (s *Storage) ListCards(ctx context.Context, filter CardFilter) ([]model.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM price_cards WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.FoxUserID != "" {
		query += fmt.Sprintf(" AND fox_user_id = $%d", argIdx)
		args = append(args, filter.FoxUserID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, card_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, card_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []model.Card
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return rows, nil
}

// UpdateCard replaces the stored body of an existing card.
func (s *Storage) UpdateCard(ctx context.Context, card *domain.PriceCard) (*model.Card, error) {
	row, err := model.NewCard(card, "")
	if err != nil {
		return nil, err
	}
	row.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE price_cards
		SET title = $1,
			reference_date = $2,
			fox_user_id = $3,
			body = $4,
			updated_at = $5
		WHERE card_id = $6
	`, row.Title, row.ReferenceDate, row.FoxUserID, string(row.Body), row.UpdatedAt, row.CardID)
	if err != nil {
		return nil, fmt.Errorf("failed to update card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, domain.ErrCardNotFound
	}

	return s.GetCard(ctx, card.ID)
}

func (s *Storage) DeleteCard(ctx context.Context, cardID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_cards WHERE card_id = $1`, cardID)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

// GetCardsByIDs returns the decoded cards in the order of ids, skipping unknown ids.
func (s *Storage) GetCardsByIDs(ctx context.Context, ids []string) ([]*domain.PriceCard, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT `+cardColumns+` FROM price_cards WHERE card_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build card query: %w", err)
	}

	var rows []model.Card
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get cards: %w", err)
	}

	byID := make(map[string]*model.Card, len(rows))
	for i := range rows {
		byID[rows[i].CardID] = &rows[i]
	}

	cards := make([]*domain.PriceCard, 0, len(rows))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		card, err := row.PriceCard()
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, nil
}
