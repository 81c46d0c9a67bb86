package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Blob is a materialized copy of remote media served by this process.
type Blob struct {
	ID          string
	URL         string
	ContentType string
	Size        int
	ExpiresAt   time.Time
}

// BlobStore keeps materialized media until it is released or expires.
type BlobStore interface {
	Put(ctx context.Context, data []byte, contentType string) (*Blob, error)
	Release(ctx context.Context, id string) error
}

type memoryBlob struct {
	data        []byte
	contentType string
	expiresAt   time.Time
}

// MemoryBlobStore serves blobs from memory under {baseURL}/api/media/blob/{id}.
type MemoryBlobStore struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	blobs map[string]*memoryBlob
}

// NewMemoryBlobStore creates a store whose blobs live for ttl unless released earlier.
func NewMemoryBlobStore(baseURL string, ttl time.Duration) *MemoryBlobStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryBlobStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
		blobs:   make(map[string]*memoryBlob),
	}
}

func (s *MemoryBlobStore) Put(_ context.Context, data []byte, contentType string) (*Blob, error) {
	id := uuid.New().String()
	expiresAt := s.now().Add(s.ttl)

	s.mu.Lock()
	s.blobs[id] = &memoryBlob{
		data:        data,
		contentType: contentType,
		expiresAt:   expiresAt,
	}
	s.mu.Unlock()

	return &Blob{
		ID:          id,
		URL:         s.baseURL + "/api/media/blob/" + id,
		ContentType: contentType,
		Size:        len(data),
		ExpiresAt:   expiresAt,
	}, nil
}

// Get returns the bytes and content type of a live blob.
func (s *MemoryBlobStore) Get(id string) ([]byte, string, bool) {
	s.mu.RLock()
	b, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok || !s.now().Before(b.expiresAt) {
		return nil, "", false
	}
	return b.data, b.contentType, true
}

func (s *MemoryBlobStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired blobs and returns how many were removed.
func (s *MemoryBlobStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, b := range s.blobs {
		if !now.Before(b.expiresAt) {
			delete(s.blobs, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored blobs, expired or not.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// RunJanitor sweeps every interval until ctx is done.
func (s *MemoryBlobStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// ObjectStore is the subset of the object storage client used for blobs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	RemoveObject(ctx context.Context, key string) error
}

// ObjectBlobStore keeps blobs in object storage and hands out presigned URLs.
type ObjectBlobStore struct {
	store  ObjectStore
	prefix string
	expiry time.Duration
	now    func() time.Time
}

func NewObjectBlobStore(store ObjectStore, prefix string, expiry time.Duration) *ObjectBlobStore {
	if expiry <= 0 {
		expiry = DefaultCacheTTL
	}
	return &ObjectBlobStore{store: store, prefix: prefix, expiry: expiry, now: time.Now}
}

func (s *ObjectBlobStore) Put(ctx context.Context, data []byte, contentType string) (*Blob, error) {
	id := uuid.New().String()
	key := s.prefix + id
	issuedAt := s.now()

	if err := s.store.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("put blob object: %w", err)
	}

	u, err := s.store.PresignedGetURL(ctx, key, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("presign blob object: %w", err)
	}

	return &Blob{ID: id, URL: u, ContentType: contentType, Size: len(data), ExpiresAt: issuedAt.Add(s.expiry)}, nil
}

func (s *ObjectBlobStore) Release(ctx context.Context, id string) error {
	return s.store.RemoveObject(ctx, s.prefix+id)
}
