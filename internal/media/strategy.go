package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
)

// Strategy is one way of turning a media reference into a loadable URL.
type Strategy interface {
	Name() string
	Supports(kind domain.MediaKind) bool
	Attempt(ctx context.Context, ref domain.MediaReference) (string, error)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// BackendProxy asks our own media proxy endpoint to re-serve the resource.
type BackendProxy struct {
	baseURL string
	timeout time.Duration
	prober  Prober
}

// NewBackendProxy targets {baseURL}/api/media/proxy.
func NewBackendProxy(baseURL string, timeout time.Duration, prober Prober) *BackendProxy {
	return &BackendProxy{baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout, prober: prober}
}

func (s *BackendProxy) Name() string { return "backend-proxy" }

func (s *BackendProxy) Supports(domain.MediaKind) bool { return s.baseURL != "" }

func (s *BackendProxy) Attempt(ctx context.Context, ref domain.MediaReference) (string, error) {
	q := url.Values{}
	q.Set("url", ref.URL)
	q.Set("type", string(ref.Kind))
	candidate := s.baseURL + "/api/media/proxy?" + q.Encode()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.prober.Probe(ctx, candidate, ref.Kind); err != nil {
		return "", err
	}
	return candidate, nil
}

// Direct uses the original URL unchanged.
type Direct struct {
	timeout time.Duration
	prober  Prober
}

func NewDirect(timeout time.Duration, prober Prober) *Direct {
	return &Direct{timeout: timeout, prober: prober}
}

func (s *Direct) Name() string { return "direct" }

func (s *Direct) Supports(domain.MediaKind) bool { return true }

func (s *Direct) Attempt(ctx context.Context, ref domain.MediaReference) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.prober.Probe(ctx, ref.URL, ref.Kind); err != nil {
		return "", err
	}
	return ref.URL, nil
}

// CORSProxy prefixes the escaped original URL with a public proxy endpoint.
type CORSProxy struct {
	prefix  string
	timeout time.Duration
	prober  Prober
}

func NewCORSProxy(prefix string, timeout time.Duration, prober Prober) *CORSProxy {
	return &CORSProxy{prefix: prefix, timeout: timeout, prober: prober}
}

// NewCORSProxies builds one strategy per prefix, keeping their order.
func NewCORSProxies(prefixes []string, timeout time.Duration, prober Prober) []Strategy {
	out := make([]Strategy, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		out = append(out, NewCORSProxy(p, timeout, prober))
	}
	return out
}

func (s *CORSProxy) Name() string {
	host := s.prefix
	if u, err := url.Parse(s.prefix); err == nil && u.Host != "" {
		host = u.Host
	}
	return "cors-proxy:" + host
}

func (s *CORSProxy) Supports(domain.MediaKind) bool { return true }

func (s *CORSProxy) Attempt(ctx context.Context, ref domain.MediaReference) (string, error) {
	candidate := s.prefix + url.QueryEscape(ref.URL)

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.prober.Probe(ctx, candidate, ref.Kind); err != nil {
		return "", err
	}
	return candidate, nil
}

// BlobMaterializer downloads audio and re-hosts it in a BlobStore.
type BlobMaterializer struct {
	fetcher *Fetcher
	store   BlobStore
	timeout time.Duration
}

func NewBlobMaterializer(fetcher *Fetcher, store BlobStore, timeout time.Duration) *BlobMaterializer {
	return &BlobMaterializer{fetcher: fetcher, store: store, timeout: timeout}
}

func (s *BlobMaterializer) Name() string { return "blob" }

func (s *BlobMaterializer) Supports(kind domain.MediaKind) bool {
	return kind == domain.MediaKindAudio && s.store != nil
}

func (s *BlobMaterializer) Attempt(ctx context.Context, ref domain.MediaReference) (string, error) {
	blob, err := s.Materialize(ctx, ref)
	if err != nil {
		return "", err
	}
	return blob.URL, nil
}

// Materialize stores a copy of ref and returns the blob, including when its URL stops loading.
func (s *BlobMaterializer) Materialize(ctx context.Context, ref domain.MediaReference) (*Blob, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	data, contentType, err := s.fetcher.Fetch(ctx, ref.URL, ref.Kind)
	if err != nil {
		return nil, err
	}

	blob, err := s.store.Put(ctx, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	return blob, nil
}

// DataURLMaterializer downloads an image and inlines it as a base64 data URL.
type DataURLMaterializer struct {
	fetcher *Fetcher
	timeout time.Duration
}

func NewDataURLMaterializer(fetcher *Fetcher, timeout time.Duration) *DataURLMaterializer {
	return &DataURLMaterializer{fetcher: fetcher, timeout: timeout}
}

func (s *DataURLMaterializer) Name() string { return "data-url" }

func (s *DataURLMaterializer) Supports(kind domain.MediaKind) bool {
	return kind == domain.MediaKindImage
}

func (s *DataURLMaterializer) Attempt(ctx context.Context, ref domain.MediaReference) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	data, contentType, err := s.fetcher.Fetch(ctx, ref.URL, ref.Kind)
	if err != nil {
		return "", err
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
