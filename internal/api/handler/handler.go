package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/model"
	"github.com/cuongbtq/pricecards/internal/api/storage"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/internal/media"
	"github.com/cuongbtq/pricecards/internal/offer"
	"github.com/cuongbtq/pricecards/shared/objectstore"
)

// JobStore persists extraction jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
	CleanupJobs(ctx context.Context, olderThan time.Time) (int64, error)
	FailJob(ctx context.Context, jobID, errorMsg string) error
}

// CardStore persists reviewed price cards
type CardStore interface {
	CreateCard(ctx context.Context, card *domain.PriceCard, sourceJobID string) (*model.Card, error)
	GetCard(ctx context.Context, cardID string) (*model.Card, error)
	ListCards(ctx context.Context, filter storage.CardFilter) ([]model.Card, error)
	UpdateCard(ctx context.Context, card *domain.PriceCard) (*model.Card, error)
	DeleteCard(ctx context.Context, cardID string) error
}

// JobQueue hands job ids to the worker service
type JobQueue interface {
	PublishWithRetry(ctx context.Context, messageID string, body []byte, contentType string) error
}

// FileStore keeps uploaded files until a worker reads them
type FileStore interface {
	PutFile(ctx context.Context, key, filename string, r io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, key string) (*objectstore.ObjectInfo, error)
}

// MediaResolver turns a remote media URL into one the browser can load
type MediaResolver interface {
	Resolve(ctx context.Context, ref domain.MediaReference) (*media.Resolution, error)
	ForgetBlob(ctx context.Context, id string)
	Clear(ctx context.Context) error
}

// MediaFetcher opens upstream media for the proxy and download endpoints
type MediaFetcher interface {
	Open(ctx context.Context, target string, kind domain.MediaKind) (*http.Response, error)
}

// BlobReader serves blobs materialized by the resolver
type BlobReader interface {
	Get(id string) ([]byte, string, bool)
	Release(ctx context.Context, id string) error
}

// SpreadsheetGenerator renders cards into a workbook
type SpreadsheetGenerator interface {
	Generate(ctx context.Context, cardIDs []string, templateID string) ([]byte, string, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	ServiceName  string
	Jobs         JobStore
	Cards        CardStore
	Queue        JobQueue
	Files        FileStore
	Resolver     MediaResolver
	Fetcher      MediaFetcher
	Blobs        BlobReader      // nil when blobs live in object storage
	Offers       offer.Publisher // nil disables marketplace offers
	Spreadsheets SpreadsheetGenerator

	AuthSecret     string // empty disables bearer auth
	AllowedHosts   []string
	MaxUploadBytes int64
	JobMaxRetries  int
	JobTimeout     time.Duration
}

// JobHandler handles upload and processing requests
type JobHandler struct {
	logger         *slog.Logger
	jobs           JobStore
	queue          JobQueue
	files          FileStore
	maxUploadBytes int64
	maxRetries     int
	jobTimeout     time.Duration
	now            func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &JobHandler{
		logger:         deps.Logger,
		jobs:           deps.Jobs,
		queue:          deps.Queue,
		files:          deps.Files,
		maxUploadBytes: maxUpload,
		maxRetries:     deps.JobMaxRetries,
		jobTimeout:     deps.JobTimeout,
		now:            time.Now,
	}
}

// MediaHandler handles media proxy, download and resolution requests
type MediaHandler struct {
	logger       *slog.Logger
	resolver     MediaResolver
	fetcher      MediaFetcher
	blobs        BlobReader
	allowedHosts []string
}

func NewMediaHandler(deps *Dependencies) *MediaHandler {
	return &MediaHandler{
		logger:       deps.Logger,
		resolver:     deps.Resolver,
		fetcher:      deps.Fetcher,
		blobs:        deps.Blobs,
		allowedHosts: deps.AllowedHosts,
	}
}

// CardHandler handles reviewed price cards
type CardHandler struct {
	logger *slog.Logger
	cards  CardStore
	offers offer.Publisher
}

func NewCardHandler(deps *Dependencies) *CardHandler {
	return &CardHandler{
		logger: deps.Logger,
		cards:  deps.Cards,
		offers: deps.Offers,
	}
}

// SpreadsheetHandler handles workbook exports
type SpreadsheetHandler struct {
	logger       *slog.Logger
	spreadsheets SpreadsheetGenerator
}

func NewSpreadsheetHandler(deps *Dependencies) *SpreadsheetHandler {
	return &SpreadsheetHandler{
		logger:       deps.Logger,
		spreadsheets: deps.Spreadsheets,
	}
}
