package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/dto"
	"github.com/cuongbtq/pricecards/internal/api/storage"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultCleanupAge   = 24 * time.Hour
	statusUpdateTimeout = 5 * time.Second
)

// Upload handles POST /api/upload
// Stores the multipart "file" field so it can be analyzed later
func (h *JobHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		h.logger.Error("Missing upload file", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file is required",
		})
		return
	}

	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file is too large",
		})
		return
	}

	f, err := header.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read file",
		})
		return
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		h.logger.Error("Failed to detect upload type", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Failed to read file",
		})
		return
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read file",
		})
		return
	}

	fileID := uuid.New().String()
	if err := h.files.PutFile(c.Request.Context(), domain.UploadKey(fileID), header.Filename, f, header.Size, mtype.String()); err != nil {
		h.logger.Error("Failed to store upload",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store file",
		})
		return
	}

	h.logger.Info("File uploaded",
		slog.String("file_id", fileID),
		slog.String("filename", header.Filename),
		slog.String("content_type", mtype.String()),
		slog.Int64("size", header.Size),
	)

	c.JSON(http.StatusCreated, dto.UploadResponse{
		FileID:   fileID,
		Filename: header.Filename,
		Size:     header.Size,
	})
}

// AnalyzeText handles POST /api/processing/analyze-text
func (h *JobHandler) AnalyzeText(c *gin.Context) {
	var req dto.AnalyzeTextRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "text is required",
		})
		return
	}

	h.submit(c, h.newJob(domain.JobTypeText, req.Text, ""))
}

// AnalyzeFile handles POST /api/processing/analyze-file
func (h *JobHandler) AnalyzeFile(c *gin.Context) {
	var req dto.AnalyzeFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "fileId is required",
		})
		return
	}

	if _, err := uuid.Parse(req.FileID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "fileId must be a valid UUID",
		})
		return
	}

	info, err := h.files.Stat(c.Request.Context(), domain.UploadKey(req.FileID))
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "file not found",
			})
			return
		}
		h.logger.Error("Failed to stat upload", slog.String("file_id", req.FileID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up file",
		})
		return
	}

	h.submit(c, h.newJob(domain.JobTypeFile, req.FileID, info.Filename))
}

func (h *JobHandler) newJob(jobType domain.JobType, input, filename string) *domain.Job {
	now := h.now().UTC()
	job := &domain.Job{
		JobID:      uuid.New().String(),
		JobType:    jobType,
		Input:      input,
		Filename:   filename,
		Status:     domain.JobStatusPending,
		MaxRetries: h.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if h.jobTimeout > 0 {
		job.TimeoutSeconds = int(h.jobTimeout / time.Second)
	}
	return job
}

// submit stores job and publishes its id to the worker queue
func (h *JobHandler) submit(c *gin.Context, job *domain.Job) {
	ctx := c.Request.Context()

	if err := h.jobs.CreateJob(ctx, job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	body, _ := json.Marshal(map[string]string{"job_id": job.JobID})
	if err := h.queue.PublishWithRetry(ctx, job.JobID, body, "application/json"); err != nil {
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		// No message will ever claim the row
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusUpdateTimeout)
		defer cancel()
		if failErr := h.jobs.FailJob(failCtx, job.JobID, "failed to enqueue job"); failErr != nil {
			h.logger.Error("Failed to mark unqueued job failed",
				slog.String("job_id", job.JobID),
				slog.String("error", failErr.Error()),
			)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
	)

	c.JSON(http.StatusAccepted, dto.SubmitJobResponse{
		JobID:  job.JobID,
		Status: job.Status,
	})
}

// GetStatus handles GET /api/processing/status/:job_id
func (h *JobHandler) GetStatus(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, domain.NewStatusReport(job))
}

// ListJobs handles GET /api/processing/jobs
// Lists jobs newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.JobType != "" && !domain.JobType(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_type must be text or file",
		})
		return
	}
	switch domain.JobStatus(req.Status) {
	case "", domain.JobStatusPending, domain.JobStatusProcessing, domain.JobStatusCompleted, domain.JobStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	size := pageSize(req.PageSize)

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), storage.JobFilter{
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: size,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > size
	if hasMore {
		jobs = jobs[:size]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeCursor(last.CreatedAt, last.JobID)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// DeleteJob handles DELETE /api/processing/jobs/:job_id
// Only completed or failed jobs can be deleted
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.jobs.DeleteJob(c.Request.Context(), jobID)
	switch {
	case err == nil:
		h.logger.Info("Job deleted", slog.String("job_id", jobID))
		c.Status(http.StatusNoContent)
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
	case errors.Is(err, domain.ErrJobNotTerminal):
		c.JSON(http.StatusConflict, gin.H{
			"error": "job is still running",
		})
	default:
		h.logger.Error("Failed to delete job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to delete job",
		})
	}
}

// Cleanup handles POST /api/processing/cleanup
// Deletes finished jobs older than older_than (default 24h)
func (h *JobHandler) Cleanup(c *gin.Context) {
	var req dto.CleanupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	age := defaultCleanupAge
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "older_than must be a positive duration such as 24h",
			})
			return
		}
		age = d
	}

	deleted, err := h.jobs.CleanupJobs(c.Request.Context(), h.now().Add(-age))
	if err != nil {
		h.logger.Error("Failed to cleanup jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cleanup jobs",
		})
		return
	}

	h.logger.Info("Jobs cleaned up",
		slog.Int64("deleted", deleted),
		slog.Duration("older_than", age),
	)

	c.JSON(http.StatusOK, dto.CleanupResponse{Deleted: deleted})
}
