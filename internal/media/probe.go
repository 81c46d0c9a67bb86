package media

import (
	"context"
	"io"

	"github.com/cuongbtq/pricecards/internal/domain"
)

// Prober checks that a candidate URL actually serves media of the given kind.
type Prober interface {
	Probe(ctx context.Context, target string, kind domain.MediaKind) error
}

// HTTPProber loads the first bytes of the candidate and sniffs them.
type HTTPProber struct {
	fetcher *Fetcher
}

// NewHTTPProber creates a prober on top of fetcher.
func NewHTTPProber(fetcher *Fetcher) *HTTPProber {
	return &HTTPProber{fetcher: fetcher}
}

// Probe succeeds when target answers 2xx with a body that decodes as kind.
func (p *HTTPProber) Probe(ctx context.Context, target string, kind domain.MediaKind) error {
	resp, err := p.fetcher.Open(ctx, target, kind)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	head, err := io.ReadAll(io.LimitReader(resp.Body, sniffLen))
	if err != nil {
		return classifyTransportError(err)
	}

	_, err = MatchKind(kind, head, resp.Header.Get("Content-Type"))
	return err
}
