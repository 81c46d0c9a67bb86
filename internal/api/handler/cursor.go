package handler

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var errInvalidCursor = errors.New("invalid cursor")

// DecodeCursor parses the opaque page token produced by EncodeCursor.
// An empty token means the first page.
func DecodeCursor(token string) (*storage.Cursor, error) {
	if token == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, errInvalidCursor
	}

	nanos, id, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, errInvalidCursor
	}

	createdAt, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, errInvalidCursor
	}

	return &storage.Cursor{
		CreatedAt: time.Unix(0, createdAt),
		ID:        id,
	}, nil
}

// EncodeCursor builds a URL-safe token pointing after the row (createdAt, id)
func EncodeCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func pageSize(requested int) int {
	if requested <= 0 {
		return defaultPageSize
	}
	return min(requested, maxPageSize)
}
