package domain

import (
	"fmt"
	"net/url"
)

// MediaKind tags what a media URL is expected to contain.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
)

// ParseMediaKind accepts "audio" and "image"; empty defaults to audio.
func ParseMediaKind(s string) (MediaKind, error) {
	switch s {
	case "", string(MediaKindAudio):
		return MediaKindAudio, nil
	case string(MediaKindImage):
		return MediaKindImage, nil
	}
	return "", fmt.Errorf("%w: unknown media kind %q", ErrInvalidInput, s)
}

// MediaReference is a remote media URL together with its kind.
type MediaReference struct {
	URL  string
	Kind MediaKind
}

// CacheKey identifies the reference in resolver caches.
func (r MediaReference) CacheKey() string {
	return string(r.Kind) + "_" + r.URL
}

// Validate checks that the URL is an absolute http(s) URL.
func (r MediaReference) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: media url is required", ErrInvalidInput)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: media url: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: media url must be http or https", ErrInvalidInput)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: media url has no host", ErrInvalidInput)
	}
	return nil
}
