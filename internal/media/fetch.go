package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMaxBytes caps how much a materializing strategy downloads
	DefaultMaxBytes int64 = 16 << 20
	sniffLen              = 3072
)

// Fetcher performs GET requests for media and classifies failures into the domain taxonomy.
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewFetcher creates a fetcher; a nil client gets a 30s timeout client.
func NewFetcher(client *http.Client, userAgent string, maxBytes int64) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Fetcher{client: client, userAgent: userAgent, maxBytes: maxBytes}
}

// Open issues the request and returns the response when the status is 2xx.
// The caller must close the body.
func (f *Fetcher) Open(ctx context.Context, target string, kind domain.MediaKind) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", string(kind)+"/*")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &domain.BackendError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	return resp, nil
}

// Fetch downloads the whole resource, checks that it decodes as kind and
// returns the bytes with their detected content type.
func (f *Fetcher) Fetch(ctx context.Context, target string, kind domain.MediaKind) ([]byte, string, error) {
	resp, err := f.Open(ctx, target, kind)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", classifyTransportError(err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", fmt.Errorf("%w: resource exceeds %d bytes", domain.ErrUnsupportedFormat, f.maxBytes)
	}

	contentType, err := MatchKind(kind, data, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// MatchKind sniffs data and reports the content type when it is a kind resource.
// The declared header is only trusted when sniffing is inconclusive.
func MatchKind(kind domain.MediaKind, data []byte, declared string) (string, error) {
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}

	detected := mimetype.Detect(data)
	for m := detected; m != nil; m = m.Parent() {
		if kindAccepts(kind, m.String()) {
			return detected.String(), nil
		}
	}

	if detected.Is("application/octet-stream") || detected.Is("text/plain") {
		declared = strings.TrimSpace(strings.Split(declared, ";")[0])
		if kindAccepts(kind, declared) {
			return declared, nil
		}
	}

	return "", fmt.Errorf("%w: expected %s, got %s", domain.ErrUnsupportedFormat, kind, detected.String())
}

func kindAccepts(kind domain.MediaKind, contentType string) bool {
	contentType = strings.ToLower(contentType)
	switch kind {
	case domain.MediaKindAudio:
		return strings.HasPrefix(contentType, "audio/") ||
			contentType == "application/ogg" ||
			contentType == "video/webm" ||
			contentType == "video/mp4"
	case domain.MediaKindImage:
		return strings.HasPrefix(contentType, "image/")
	}
	return false
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
}
