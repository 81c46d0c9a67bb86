package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/extract"
	workerdomain "github.com/cuongbtq/pricecards/internal/worker/domain"
	"github.com/cuongbtq/pricecards/internal/worker/storage"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	progress map[string][]int
	results  map[string]json.RawMessage
	failures map[string]string
	retries  map[string]string
	stale    map[string]bool
	claimErr error
}

func newFakeStorage(jobs ...*domain.Job) *fakeStorage {
	s := &fakeStorage{
		jobs:     make(map[string]*domain.Job),
		progress: make(map[string][]int),
		results:  make(map[string]json.RawMessage),
		failures: make(map[string]string),
		retries:  make(map[string]string),
		stale:    make(map[string]bool),
	}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeStorage) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	j, ok := s.jobs[jobID]
	if !ok || j.Status != domain.JobStatusPending {
		return nil, workerdomain.ErrJobAlreadyClaimed
	}
	j.Status = domain.JobStatusProcessing
	j.WorkerID = workerID
	s.progress[jobID] = append(s.progress[jobID], storage.ProgressClaimed)
	cp := *j
	return &cp, nil
}

func (s *fakeStorage) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[jobID] = append(s.progress[jobID], progress)
	return nil
}

func (s *fakeStorage) CompleteJob(_ context.Context, jobID string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].Status = domain.JobStatusCompleted
	s.progress[jobID] = append(s.progress[jobID], storage.ProgressDone)
	s.results[jobID] = result
	return nil
}

func (s *fakeStorage) FailJob(_ context.Context, jobID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID].Status = domain.JobStatusFailed
	s.failures[jobID] = errorMsg
	return nil
}

func (s *fakeStorage) RetryJob(_ context.Context, jobID, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[jobID]
	j.Status = domain.JobStatusPending
	j.RetryCount++
	s.retries[jobID] = errorMsg
	return nil
}

func (s *fakeStorage) UpdateJobHeartbeat(context.Context, string) error { return nil }

func (s *fakeStorage) RecoverStaleJobs(_ context.Context, _ time.Duration, errorMsg string) ([]storage.StaleJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.StaleJob
	for id, j := range s.jobs {
		if j.Status != domain.JobStatusProcessing || !s.stale[id] {
			continue
		}
		delete(s.stale, id)
		if j.RetryCount < j.MaxRetries {
			j.Status = domain.JobStatusPending
			j.RetryCount++
		} else {
			j.Status = domain.JobStatusFailed
			s.failures[id] = errorMsg
		}
		out = append(out, storage.StaleJob{JobID: id, Status: j.Status})
	}
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies map[string]string
	err    error
}

func (p *fakePublisher) PublishWithRetry(_ context.Context, messageID string, body []byte, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.bodies == nil {
		p.bodies = make(map[string]string)
	}
	p.bodies[messageID] = string(body)
	return nil
}

func (p *fakePublisher) published(jobID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	body, ok := p.bodies[jobID]
	return body, ok
}

func (s *fakeStorage) snapshot(jobID string) (domain.Job, []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID], append([]int(nil), s.progress[jobID]...)
}

type fakeFiles struct {
	objects map[string]storedObject
}

type storedObject struct {
	data        []byte
	contentType string
	filename    string
}

func (f *fakeFiles) GetObject(_ context.Context, key string, _ int64) ([]byte, *objectstore.ObjectInfo, error) {
	obj, ok := f.objects[key]
	if !ok {
		return nil, nil, objectstore.ErrObjectNotFound
	}
	return obj.data, &objectstore.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType, Filename: obj.filename}, nil
}

type fakeExtractor struct {
	mu     sync.Mutex
	inputs []extract.Input
	card   *domain.PriceCard
	err    error
	panic  bool
}

func (e *fakeExtractor) Extract(_ context.Context, in extract.Input) (*domain.PriceCard, json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, in)
	if e.panic {
		panic("extractor exploded")
	}
	if e.err != nil {
		return nil, nil, e.err
	}
	raw, _ := json.Marshal(e.card)
	return e.card, raw, nil
}

type settlement struct {
	tag     uint64
	acked   bool
	requeue bool
}

type fakeAcknowledger struct {
	events chan settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.events <- settlement{tag: tag, acked: true}
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.events <- settlement{tag: tag, requeue: requeue}
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

type fakeSource struct {
	deliveries chan amqp.Delivery
}

func (s *fakeSource) Consume(string) (<-chan amqp.Delivery, error) {
	return s.deliveries, nil
}

type harness struct {
	storage   *fakeStorage
	extractor *fakeExtractor
	files     *fakeFiles
	source    *fakeSource
	publisher *fakePublisher
	ack       *fakeAcknowledger
	worker    *Worker
	done      chan error
	nextTag   uint64
}

func newHarness(t *testing.T, jobs ...*domain.Job) *harness {
	t.Helper()
	h := &harness{
		storage:   newFakeStorage(jobs...),
		extractor: &fakeExtractor{card: sampleCard()},
		files:     &fakeFiles{objects: map[string]storedObject{}},
		source:    &fakeSource{deliveries: make(chan amqp.Delivery)},
		publisher: &fakePublisher{},
		ack:       &fakeAcknowledger{events: make(chan settlement, 16)},
		done:      make(chan error, 1),
	}
	h.worker = NewWorker(&Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkerID:          "worker-test",
		Storage:           h.storage,
		Files:             h.files,
		Extractor:         h.extractor,
		Source:            h.source,
		Publisher:         h.publisher,
		Concurrency:       2,
		JobTimeout:        5 * time.Second,
		HeartbeatInterval: time.Hour,
	})
	go func() { h.done <- h.worker.Start(context.Background()) }()
	t.Cleanup(func() {
		close(h.source.deliveries)
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return h
}

func (h *harness) send(t *testing.T, body string) settlement {
	t.Helper()
	h.nextTag++
	h.source.deliveries <- amqp.Delivery{
		Acknowledger: h.ack,
		DeliveryTag:  h.nextTag,
		Body:         []byte(body),
	}
	select {
	case ev := <-h.ack.events:
		require.Equal(t, h.nextTag, ev.tag)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("message was not settled")
		return settlement{}
	}
}

func jobBody(jobID string) string {
	return fmt.Sprintf(`{"job_id":%q}`, jobID)
}

func sampleCard() *domain.PriceCard {
	price := 68.0
	return &domain.PriceCard{
		Title:         "Cotação",
		ReferenceDate: "10/03/2025",
		Products: []domain.Product{
			{Name: "MILHO", PriceEntries: []domain.PriceEntry{{Shipment: "mar/25", PriceBRL: &price}}},
		},
	}
}

func pendingJob(jobType domain.JobType, input string) *domain.Job {
	return &domain.Job{
		JobID:      uuid.New().String(),
		JobType:    jobType,
		Input:      input,
		Status:     domain.JobStatusPending,
		MaxRetries: 2,
	}
}

func TestWorker_TextJobCompletes(t *testing.T) {
	job := pendingJob(domain.JobTypeText, "MILHO FOB Rio Verde mar/25 R$ 68,00")
	h := newHarness(t, job)

	ev := h.send(t, jobBody(job.JobID))
	assert.True(t, ev.acked)

	got, progress := h.storage.snapshot(job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, []int{10, 40, 90, 100}, progress)

	var card domain.PriceCard
	require.NoError(t, json.Unmarshal(h.storage.results[job.JobID], &card))
	assert.Equal(t, "MILHO", card.Products[0].Name)

	require.Len(t, h.extractor.inputs, 1)
	assert.Equal(t, job.Input, h.extractor.inputs[0].Text)
}

func TestWorker_FileJobs(t *testing.T) {
	imageFile := uuid.New().String()
	textFile := uuid.New().String()
	pdfFile := uuid.New().String()

	imageJob := pendingJob(domain.JobTypeFile, imageFile)
	imageJob.Filename = "cotacao.png"
	textJob := pendingJob(domain.JobTypeFile, textFile)
	pdfJob := pendingJob(domain.JobTypeFile, pdfFile)
	missingJob := pendingJob(domain.JobTypeFile, uuid.New().String())

	h := newHarness(t, imageJob, textJob, pdfJob, missingJob)
	h.files.objects[domain.UploadKey(imageFile)] = storedObject{data: []byte("\x89PNG"), contentType: "image/png"}
	h.files.objects[domain.UploadKey(textFile)] = storedObject{data: []byte("SOJA mai/25 R$ 120"), contentType: "text/plain; charset=utf-8", filename: "zap.txt"}
	h.files.objects[domain.UploadKey(pdfFile)] = storedObject{data: []byte("%PDF-1.7"), contentType: "application/pdf"}

	t.Run("image goes as data url", func(t *testing.T) {
		ev := h.send(t, jobBody(imageJob.JobID))
		assert.True(t, ev.acked)

		in := h.extractor.inputs[len(h.extractor.inputs)-1]
		assert.True(t, strings.HasPrefix(in.ImageDataURL, "data:image/png;base64,"))
		assert.Equal(t, "cotacao.png", in.Filename)
		assert.Empty(t, in.Text)
	})

	t.Run("text file goes as text", func(t *testing.T) {
		ev := h.send(t, jobBody(textJob.JobID))
		assert.True(t, ev.acked)

		in := h.extractor.inputs[len(h.extractor.inputs)-1]
		assert.Equal(t, "SOJA mai/25 R$ 120", in.Text)
		assert.Equal(t, "zap.txt", in.Filename)
	})

	t.Run("unsupported format fails without requeue", func(t *testing.T) {
		ev := h.send(t, jobBody(pdfJob.JobID))
		assert.False(t, ev.acked)
		assert.False(t, ev.requeue)

		got, _ := h.storage.snapshot(pdfJob.JobID)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		assert.Equal(t, "unsupported file format", h.storage.failures[pdfJob.JobID])
	})

	t.Run("missing upload fails without requeue", func(t *testing.T) {
		ev := h.send(t, jobBody(missingJob.JobID))
		assert.False(t, ev.requeue)
		assert.Equal(t, "uploaded file not found", h.storage.failures[missingJob.JobID])
	})
}

func TestWorker_TransientFailureIsRetried(t *testing.T) {
	job := pendingJob(domain.JobTypeText, "SORGO")
	h := newHarness(t, job)
	h.extractor.err = fmt.Errorf("%w: connection reset", domain.ErrNetwork)

	// MaxRetries is 2: two requeues, then the job fails for good
	for i := 0; i < 2; i++ {
		ev := h.send(t, jobBody(job.JobID))
		assert.False(t, ev.acked)
		assert.True(t, ev.requeue, "attempt %d", i+1)

		got, _ := h.storage.snapshot(job.JobID)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Equal(t, i+1, got.RetryCount)
	}

	ev := h.send(t, jobBody(job.JobID))
	assert.False(t, ev.requeue)

	got, _ := h.storage.snapshot(job.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Contains(t, h.storage.failures[job.JobID], "connection reset")
}

func TestWorker_InvalidModelOutputFailsImmediately(t *testing.T) {
	job := pendingJob(domain.JobTypeText, "texto sem cotação")
	h := newHarness(t, job)
	h.extractor.err = fmt.Errorf("%w: missing produtos", extract.ErrInvalidOutput)

	ev := h.send(t, jobBody(job.JobID))
	assert.False(t, ev.requeue)

	got, progress := h.storage.snapshot(job.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, []int{10, 40}, progress)
	assert.Empty(t, h.storage.retries)
}

func TestWorker_RejectsBadMessages(t *testing.T) {
	done := pendingJob(domain.JobTypeText, "x")
	done.Status = domain.JobStatusCompleted
	h := newHarness(t, done)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "job-1"},
		{name: "not a uuid", body: `{"job_id":"42"}`},
		{name: "already claimed", body: jobBody(done.JobID)},
		{name: "unknown job", body: jobBody(uuid.New().String())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := h.send(t, tt.body)
			assert.False(t, ev.acked)
			assert.False(t, ev.requeue)
		})
	}
	assert.Empty(t, h.extractor.inputs)
}

func TestWorker_ClaimDatabaseErrorIsRequeued(t *testing.T) {
	job := pendingJob(domain.JobTypeText, "x")
	h := newHarness(t, job)
	h.storage.claimErr = errors.New("connection refused")

	ev := h.send(t, jobBody(job.JobID))
	assert.True(t, ev.requeue)
}

func TestWorker_PanicFailsJobAndKeepsSlot(t *testing.T) {
	boom := pendingJob(domain.JobTypeText, "boom")
	next := pendingJob(domain.JobTypeText, "MILHO")
	h := newHarness(t, boom, next)

	h.extractor.mu.Lock()
	h.extractor.panic = true
	h.extractor.mu.Unlock()

	ev := h.send(t, jobBody(boom.JobID))
	assert.False(t, ev.requeue)

	got, _ := h.storage.snapshot(boom.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)

	h.extractor.mu.Lock()
	h.extractor.panic = false
	h.extractor.mu.Unlock()

	ev = h.send(t, jobBody(next.JobID))
	assert.True(t, ev.acked)
}

func TestShouldRequeueJob(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable", workerdomain.NewRetryableError(errors.New("db down")), true},
		{"already claimed", fmt.Errorf("job: %w", workerdomain.ErrJobAlreadyClaimed), false},
		{"max retries", fmt.Errorf("%w: boom", workerdomain.ErrMaxRetriesExceeded), false},
		{"invalid payload", fmt.Errorf("%w: boom", workerdomain.ErrInvalidPayload), false},
		{"panicked", fmt.Errorf("%w: nil map", workerdomain.ErrJobPanicked), false},
		{"unknown", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldRequeueJob(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&domain.BackendError{StatusCode: 400}))
	assert.True(t, isPermanent(&domain.BackendError{StatusCode: 401}))
	assert.False(t, isPermanent(&domain.BackendError{StatusCode: 429}))
	assert.False(t, isPermanent(&domain.BackendError{StatusCode: 503}))
	assert.False(t, isPermanent(context.DeadlineExceeded))
	assert.True(t, isPermanent(fmt.Errorf("wrap: %w", domain.ErrUnsupportedFormat)))
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, "processing timed out",
		failureMessage(fmt.Errorf("extract card: completion request: %w", context.DeadlineExceeded)))
	assert.Equal(t, "uploaded file not found", failureMessage(objectstore.ErrObjectNotFound))
	assert.Equal(t, "boom", failureMessage(errors.New("boom")))
}

func TestWorker_StopDrains(t *testing.T) {
	src := &fakeSource{deliveries: make(chan amqp.Delivery)}
	w := NewWorker(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkerID: "worker-stop",
		Storage:  newFakeStorage(),
		Source:   src,
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func processingJob(retryCount, maxRetries int) *domain.Job {
	job := pendingJob(domain.JobTypeText, "SOJA FOB Sorriso mai/25 R$ 120,00")
	job.Status = domain.JobStatusProcessing
	job.WorkerID = "worker-gone-1"
	job.RetryCount = retryCount
	job.MaxRetries = maxRetries
	return job
}

func TestWorker_RecoverStaleJobs(t *testing.T) {
	requeued := processingJob(0, 2)
	exhausted := processingJob(2, 2)
	alive := processingJob(0, 2)
	h := newHarness(t, requeued, exhausted, alive)
	h.storage.stale[requeued.JobID] = true
	h.storage.stale[exhausted.JobID] = true

	h.worker.recoverStaleJobs(context.Background())

	got, _ := h.storage.snapshot(requeued.JobID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	body, ok := h.publisher.published(requeued.JobID)
	require.True(t, ok)
	assert.JSONEq(t, jobBody(requeued.JobID), body)

	got, _ = h.storage.snapshot(exhausted.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, staleJobMessage, h.storage.failures[exhausted.JobID])
	_, ok = h.publisher.published(exhausted.JobID)
	assert.False(t, ok)

	got, _ = h.storage.snapshot(alive.JobID)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)

	// the republished message is claimable again
	ev := h.send(t, body)
	assert.True(t, ev.acked)
	got, _ = h.storage.snapshot(requeued.JobID)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestWorker_RecoverStaleJobsPublishFailure(t *testing.T) {
	job := processingJob(0, 3)
	h := newHarness(t, job)
	h.storage.stale[job.JobID] = true
	h.publisher.err = errors.New("channel closed")

	h.worker.recoverStaleJobs(context.Background())

	got, _ := h.storage.snapshot(job.JobID)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "failed to requeue job", h.storage.failures[job.JobID])
}

func TestWorker_StaleJobRecoveryRunsPeriodically(t *testing.T) {
	job := processingJob(0, 1)
	store := newFakeStorage(job)
	store.stale[job.JobID] = true
	pub := &fakePublisher{}
	src := &fakeSource{deliveries: make(chan amqp.Delivery)}

	w := NewWorker(&Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		WorkerID:          "worker-recovery",
		Storage:           store,
		Source:            src,
		Publisher:         pub,
		HeartbeatInterval: 20 * time.Millisecond,
	})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		_, ok := pub.published(job.JobID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
