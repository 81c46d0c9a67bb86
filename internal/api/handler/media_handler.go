package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/cuongbtq/pricecards/internal/api/dto"
	"github.com/cuongbtq/pricecards/internal/domain"
	"github.com/gin-gonic/gin"
)

// Proxy handles GET /api/media/proxy
// Streams the upstream resource back with its content type
func (h *MediaHandler) Proxy(c *gin.Context) {
	ref, ok := h.bindReference(c)
	if !ok {
		return
	}
	h.stream(c, ref, nil)
}

// Download handles GET /api/media/download
// Same as Proxy but asks the browser to save the file
func (h *MediaHandler) Download(c *gin.Context) {
	ref, ok := h.bindReference(c)
	if !ok {
		return
	}

	name := downloadFilename(ref, c.Query("filename"))
	h.stream(c, ref, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, name),
	})
}

// Resolve handles GET /api/media/resolve
func (h *MediaHandler) Resolve(c *gin.Context) {
	ref, ok := h.bindReference(c)
	if !ok {
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), ref)
	if err != nil {
		var all *domain.AllStrategiesFailedError
		switch {
		case errors.As(err, &all):
			failures := make([]dto.StrategyFailure, len(all.Failures))
			for i, f := range all.Failures {
				failures[i] = dto.StrategyFailure{Strategy: f.Strategy, Reason: f.Err.Error()}
			}
			c.JSON(http.StatusBadGateway, dto.ResolveErrorResponse{
				Error:    "media could not be loaded by any strategy",
				Failures: failures,
			})
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "media resolution timed out"})
		default:
			h.logger.Error("Failed to resolve media",
				slog.String("url", ref.URL),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve media"})
		}
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetBlob handles GET /api/media/blob/:id
func (h *MediaHandler) GetBlob(c *gin.Context) {
	if h.blobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}

	data, contentType, ok := h.blobs.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "blob not found"})
		return
	}

	c.Header("Cache-Control", "private, max-age=600")
	c.Data(http.StatusOK, contentType, data)
}

// ReleaseBlob handles DELETE /api/media/blob/:id
func (h *MediaHandler) ReleaseBlob(c *gin.Context) {
	if h.blobs == nil {
		c.Status(http.StatusNoContent)
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.blobs.Release(ctx, id); err != nil {
		h.logger.Error("Failed to release blob", slog.String("blob_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to release blob"})
		return
	}
	h.resolver.ForgetBlob(ctx, id)
	c.Status(http.StatusNoContent)
}

// ClearCache handles DELETE /api/media/cache
func (h *MediaHandler) ClearCache(c *gin.Context) {
	if err := h.resolver.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear media cache", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear media cache"})
		return
	}

	h.logger.Info("Media cache cleared")
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// bindReference reads url and type from the query and applies the host allow-list.
func (h *MediaHandler) bindReference(c *gin.Context) (domain.MediaReference, bool) {
	var req dto.MediaRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return domain.MediaReference{}, false
	}

	kind, err := domain.ParseMediaKind(req.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.MediaReference{}, false
	}

	ref := domain.MediaReference{URL: req.URL, Kind: kind}
	if err := ref.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.MediaReference{}, false
	}

	if !h.hostAllowed(ref.URL) {
		c.JSON(http.StatusForbidden, gin.H{"error": "media host is not allowed"})
		return domain.MediaReference{}, false
	}

	return ref, true
}

func (h *MediaHandler) hostAllowed(raw string) bool {
	if len(h.allowedHosts) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range h.allowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (h *MediaHandler) stream(c *gin.Context, ref domain.MediaReference, headers map[string]string) {
	resp, err := h.fetcher.Open(c.Request.Context(), ref.URL, ref.Kind)
	if err != nil {
		h.logger.Warn("Upstream media request failed",
			slog.String("url", ref.URL),
			slog.String("error", err.Error()),
		)

		var backendErr *domain.BackendError
		switch {
		case errors.As(err, &backendErr):
			c.JSON(http.StatusBadGateway, gin.H{
				"error": fmt.Sprintf("upstream returned status %d", backendErr.StatusCode),
			})
		case errors.Is(err, domain.ErrTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream timed out"})
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable"})
		}
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, resp.ContentLength, contentType, resp.Body, headers)
}

// downloadFilename prefers the requested name, then the last URL path segment, then a default per kind.
func downloadFilename(ref domain.MediaReference, requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		if u, err := url.Parse(ref.URL); err == nil {
			base := path.Base(u.Path)
			if path.Ext(base) != "" {
				name = base
			}
		}
	}
	if name == "" {
		if ref.Kind == domain.MediaKindImage {
			name = "imagem.jpg"
		} else {
			name = "audio.oga"
		}
	}
	return strings.NewReplacer(`"`, "", "\r", "", "\n", "").Replace(name)
}
