package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/pricecards/internal/config"
	"github.com/cuongbtq/pricecards/internal/media"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	"github.com/cuongbtq/pricecards/shared/redisclient"
	"github.com/redis/go-redis/v9"
)

const blobSweepInterval = time.Minute

type mediaStack struct {
	fetcher  *media.Fetcher
	resolver *media.Resolver
	blobs    *media.MemoryBlobStore // nil when blobs are kept in object storage
}

// initMedia wires the resolver strategies in their fixed order: backend
// proxy, direct, public CORS proxies, then local materialization.
func initMedia(ctx context.Context, cfg *config.MediaConfig, redisCfg *config.RedisConfig,
	objects *objectstore.Client, redisClient *redis.Client, logger *slog.Logger) *mediaStack {
	fetcher := media.NewFetcher(&http.Client{Timeout: cfg.UpstreamTimeout}, cfg.UserAgent, cfg.MaxBytes)
	prober := media.NewHTTPProber(fetcher)

	stack := &mediaStack{fetcher: fetcher}

	var blobStore media.BlobStore
	switch cfg.BlobBackend {
	case "storage":
		blobStore = media.NewObjectBlobStore(objects, "media/", cfg.BlobTTL)
	default:
		memory := media.NewMemoryBlobStore(cfg.PublicBaseURL, cfg.BlobTTL)
		go memory.RunJanitor(ctx, blobSweepInterval)
		stack.blobs = memory
		blobStore = memory
	}

	strategies := []media.Strategy{
		media.NewBackendProxy(cfg.PublicBaseURL, cfg.ProxyTimeout, prober),
		media.NewDirect(cfg.DirectTimeout, prober),
	}
	strategies = append(strategies, media.NewCORSProxies(cfg.CORSProxies, cfg.CORSTimeout, prober)...)
	strategies = append(strategies,
		media.NewBlobMaterializer(fetcher, blobStore, cfg.UpstreamTimeout),
		media.NewDataURLMaterializer(fetcher, cfg.UpstreamTimeout),
	)

	var cache media.Cache
	if redisClient != nil {
		cache = media.NewRedisCache(redisClient, redisCfg.Prefix, cfg.CacheTTL)
	} else {
		cache = media.NewLRUCache(cfg.CacheSize, cfg.CacheTTL)
	}

	stack.resolver = media.NewResolver(strategies, cache, logger)

	logger.Info("Media resolver configured",
		slog.Any("strategies", stack.resolver.Strategies()),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.Bool("shared_cache", redisClient != nil),
	)
	return stack
}

// initRedis connects to the shared resolution cache
func initRedis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redisclient.NewClient(ctx, &redisclient.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
}
