package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/model"
	"github.com/cuongbtq/pricecards/internal/api/storage"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/media"
	"github.com/cuongbtq/pricecards/internal/offer"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeJobStore struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	createErr  error
	lastFilter storage.JobFilter
	cutoff     time.Time
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	s := &fakeJobStore{jobs: make(map[string]*domain.Job)}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeJobStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

func (s *fakeJobStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeJobStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter

	var out []domain.Job
	for _, j := range s.jobs {
		if filter.Status != "" && string(j.Status) != filter.Status {
			continue
		}
		if filter.JobType != "" && string(j.JobType) != filter.JobType {
			continue
		}
		if c := filter.Cursor; c != nil {
			older := j.CreatedAt.Before(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.JobID < c.ID)
			if !older {
				continue
			}
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].JobID > out[b].JobID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (s *fakeJobStore) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !j.Status.IsTerminal() {
		return domain.ErrJobNotTerminal
	}
	delete(s.jobs, jobID)
	return nil
}

func (s *fakeJobStore) FailJob(_ context.Context, jobID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[jobID]; ok && j.Status == domain.JobStatusPending {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = errorMsg
	}
	return nil
}

func (s *fakeJobStore) CleanupJobs(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoff = olderThan
	var n int64
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.UpdatedAt.Before(olderThan) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	err       error
	published [][]byte
}

func (q *fakeQueue) PublishWithRetry(_ context.Context, _ string, body []byte, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, body)
	return nil
}

type storedFile struct {
	info objectstore.ObjectInfo
	data []byte
}

type fakeFileStore struct {
	mu    sync.Mutex
	files map[string]storedFile
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{files: make(map[string]storedFile)}
}

func (f *fakeFileStore) PutFile(_ context.Context, key, filename string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[key] = storedFile{
		info: objectstore.ObjectInfo{Key: key, Size: size, ContentType: contentType, Filename: filename},
		data: data,
	}
	return nil
}

func (f *fakeFileStore) Stat(_ context.Context, key string) (*objectstore.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sf, ok := f.files[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	info := sf.info
	return &info, nil
}

type fakeResolver struct {
	res     *media.Resolution
	err     error
	cleared bool
	last    domain.MediaReference
	forgot  []string
}

func (r *fakeResolver) Resolve(_ context.Context, ref domain.MediaReference) (*media.Resolution, error) {
	r.last = ref
	return r.res, r.err
}

func (r *fakeResolver) ForgetBlob(_ context.Context, id string) {
	r.forgot = append(r.forgot, id)
}

func (r *fakeResolver) Clear(context.Context) error {
	r.cleared = true
	return nil
}

type fakeCardStore struct {
	mu    sync.Mutex
	cards map[string]*model.Card
}

func newFakeCardStore() *fakeCardStore {
	return &fakeCardStore{cards: make(map[string]*model.Card)}
}

func (s *fakeCardStore) CreateCard(_ context.Context, card *domain.PriceCard, sourceJobID string) (*model.Card, error) {
	if card.ID == "" {
		card.ID = uuid.New().String()
	}
	row, err := model.NewCard(card, sourceJobID)
	if err != nil {
		return nil, err
	}
	row.CreatedAt = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	row.UpdatedAt = row.CreatedAt
	s.mu.Lock()
	s.cards[card.ID] = row
	s.mu.Unlock()
	return row, nil
}

func (s *fakeCardStore) GetCard(_ context.Context, cardID string) (*model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cards[cardID]
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	return row, nil
}

func (s *fakeCardStore) ListCards(_ context.Context, filter storage.CardFilter) ([]model.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Card
	for _, row := range s.cards {
		if filter.FoxUserID != "" && row.FoxUserID != filter.FoxUserID {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CardID > out[b].CardID })
	return out, nil
}

func (s *fakeCardStore) UpdateCard(ctx context.Context, card *domain.PriceCard) (*model.Card, error) {
	s.mu.Lock()
	old, ok := s.cards[card.ID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrCardNotFound
	}
	row, err := model.NewCard(card, "")
	if err != nil {
		return nil, err
	}
	row.CreatedAt = old.CreatedAt
	row.UpdatedAt = old.CreatedAt.Add(time.Hour)
	s.mu.Lock()
	s.cards[card.ID] = row
	s.mu.Unlock()
	return row, nil
}

func (s *fakeCardStore) DeleteCard(_ context.Context, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[cardID]; !ok {
		return domain.ErrCardNotFound
	}
	delete(s.cards, cardID)
	return nil
}

func (s *fakeCardStore) GetCardsByIDs(_ context.Context, ids []string) ([]*domain.PriceCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PriceCard
	for _, id := range ids {
		if row, ok := s.cards[id]; ok {
			card, err := row.PriceCard()
			if err != nil {
				return nil, err
			}
			out = append(out, card)
		}
	}
	return out, nil
}

type fakeOffers struct {
	calls   int
	results *offer.Results
	err     error
}

func (o *fakeOffers) Process(_ context.Context, _ *domain.PriceCard) (*offer.Results, error) {
	o.calls++
	return o.results, o.err
}

func doJSON(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func ptr[T any](v T) *T {
	return &v
}
