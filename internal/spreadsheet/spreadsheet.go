// Package spreadsheet exports price cards as XLSX workbooks.
package spreadsheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/xuri/excelize/v2"
)

// ErrUnknownTemplate is returned for a template id that is not in Templates.
var ErrUnknownTemplate = errors.New("unknown spreadsheet template")

// Template describes one export layout.
type Template struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []string `json:"columns"`
}

const (
	TemplateStandard   = "standard"
	TemplateSummary    = "summary"
	TemplateComparison = "comparison"
)

var templates = []Template{
	{
		ID:          TemplateStandard,
		Name:        "Planilha Padrão",
		Description: "Uma linha por cotação, organizada por produto",
		Columns:     []string{"Card", "Data", "Produto", "Modalidade", "Município", "UF", "Embarque", "Pagamento", "Preço USD", "Preço BRL"},
	},
	{
		ID:          TemplateSummary,
		Name:        "Resumo Executivo",
		Description: "Preços médios, mínimos e máximos por produto",
		Columns:     []string{"Produto", "Preço Médio BRL", "Preço Médio USD", "Mínimo BRL", "Máximo BRL", "Qtd. Cotações"},
	},
	{
		ID:          TemplateComparison,
		Name:        "Comparativo de Preços",
		Description: "Variação de preço entre períodos de embarque",
		Columns:     []string{"Produto", "Embarque", "Preço Atual", "Variação", "Tendência"},
	},
}

// Templates lists the available layouts.
func Templates() []Template {
	out := make([]Template, len(templates))
	copy(out, templates)
	return out
}

func lookupTemplate(id string) (Template, bool) {
	if id == "" {
		id = TemplateStandard
	}
	for _, t := range templates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// CardSource loads the cards to export.
type CardSource interface {
	GetCardsByIDs(ctx context.Context, ids []string) ([]*domain.PriceCard, error)
}

// Service renders workbooks.
type Service struct {
	cards  CardSource
	logger *slog.Logger
	now    func() time.Time
}

func NewService(cards CardSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cards: cards, logger: logger, now: time.Now}
}

// Generate loads cardIDs and renders them with templateID. It returns the
// workbook bytes and a suggested file name.
func (s *Service) Generate(ctx context.Context, cardIDs []string, templateID string) ([]byte, string, error) {
	tpl, ok := lookupTemplate(templateID)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}
	if len(cardIDs) == 0 {
		return nil, "", fmt.Errorf("%w: at least one card is required", domain.ErrInvalidInput)
	}

	cards, err := s.cards.GetCardsByIDs(ctx, cardIDs)
	if err != nil {
		return nil, "", fmt.Errorf("load cards: %w", err)
	}
	if len(cards) == 0 {
		return nil, "", domain.ErrCardNotFound
	}

	data, rows, err := Render(cards, tpl.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("Spreadsheet generated",
		slog.String("template", tpl.ID),
		slog.Int("cards", len(cards)),
		slog.Int("rows", rows))

	name := fmt.Sprintf("planilha_graos_%s_%s.xlsx", tpl.ID, s.now().Format("2006-01-02"))
	return data, name, nil
}

// Render builds the workbook and returns it with the number of data rows.
func Render(cards []*domain.PriceCard, templateID string) ([]byte, int, error) {
	tpl, ok := lookupTemplate(templateID)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	var rows [][]any
	switch tpl.ID {
	case TemplateStandard:
		rows = standardRows(cards)
	case TemplateSummary:
		rows = summaryRows(cards)
	case TemplateComparison:
		rows = comparisonRows(cards)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := tpl.Name
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, 0, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &tpl.Columns); err != nil {
		return nil, 0, fmt.Errorf("write header: %w", err)
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return nil, 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(tpl.Columns), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(tpl.Columns))
	_ = f.SetColWidth(sheet, "A", lastCol, 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), len(rows), nil
}

func standardRows(cards []*domain.PriceCard) [][]any {
	var rows [][]any
	for _, c := range cards {
		for _, p := range c.Products {
			city, state := splitLocation(p.Location)
			for _, e := range p.PriceEntries {
				rows = append(rows, []any{
					c.Title, c.ReferenceDate, p.Name, p.Modality, city, state,
					e.Shipment, e.PaymentDate, optional(e.PriceUSD), optional(e.PriceBRL),
				})
			}
		}
	}
	return rows
}

type productStats struct {
	name               string
	sumBRL, sumUSD     float64
	countBRL, countUSD int
	minBRL, maxBRL     float64
	quotes             int
}

func summaryRows(cards []*domain.PriceCard) [][]any {
	var order []string
	stats := map[string]*productStats{}

	for _, c := range cards {
		for _, p := range c.Products {
			key := strings.ToUpper(strings.TrimSpace(p.Name))
			st, ok := stats[key]
			if !ok {
				st = &productStats{name: p.Name, minBRL: math.Inf(1), maxBRL: math.Inf(-1)}
				stats[key] = st
				order = append(order, key)
			}
			for _, e := range p.PriceEntries {
				st.quotes++
				if e.PriceBRL != nil {
					st.sumBRL += *e.PriceBRL
					st.countBRL++
					st.minBRL = math.Min(st.minBRL, *e.PriceBRL)
					st.maxBRL = math.Max(st.maxBRL, *e.PriceBRL)
				}
				if e.PriceUSD != nil {
					st.sumUSD += *e.PriceUSD
					st.countUSD++
				}
			}
		}
	}

	rows := make([][]any, 0, len(order))
	for _, key := range order {
		st := stats[key]
		row := []any{st.name, "", "", "", "", st.quotes}
		if st.countBRL > 0 {
			row[1] = round2(st.sumBRL / float64(st.countBRL))
			row[3] = st.minBRL
			row[4] = st.maxBRL
		}
		if st.countUSD > 0 {
			row[2] = round2(st.sumUSD / float64(st.countUSD))
		}
		rows = append(rows, row)
	}
	return rows
}

func comparisonRows(cards []*domain.PriceCard) [][]any {
	var rows [][]any
	for _, c := range cards {
		for _, p := range c.Products {
			var prev *float64
			for _, e := range p.PriceEntries {
				if e.PriceBRL == nil {
					continue
				}
				variation, trend := "", "-"
				if prev != nil && *prev != 0 {
					pct := (*e.PriceBRL - *prev) / *prev * 100
					variation = fmt.Sprintf("%+.2f%%", pct)
					trend = trendOf(pct)
				}
				rows = append(rows, []any{p.Name, e.Shipment, *e.PriceBRL, variation, trend})
				prev = e.PriceBRL
			}
		}
	}
	return rows
}

func trendOf(pct float64) string {
	switch {
	case pct > 0.005:
		return "alta"
	case pct < -0.005:
		return "baixa"
	}
	return "estável"
}

// splitLocation splits "Rio Verde - GO" or "Rio Verde/GO" into city and state.
func splitLocation(loc string) (string, string) {
	loc = strings.TrimSpace(loc)
	for _, sep := range []string{" - ", "/", "-"} {
		if i := strings.LastIndex(loc, sep); i > 0 {
			state := strings.TrimSpace(loc[i+len(sep):])
			if len(state) == 2 {
				return strings.TrimSpace(loc[:i]), strings.ToUpper(state)
			}
		}
	}
	return loc, ""
}

func optional(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
