package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"slate/api/internal/app"
	"slate/api/internal/authpw"
	"slate/api/internal/cellstore"
	"slate/api/internal/config"
	"slate/api/internal/files"
	"slate/api/internal/retry"
	"slate/api/internal/search"
	"slate/api/internal/session"
	"slate/api/internal/store"
	"slate/api/internal/tablestore"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	policy := retry.Default()
	if cfg.RetryMaxAttempts > 0 {
		policy.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.RetryBaseDelay
	}
	tableClient := tablestore.NewClient(cfg.TableServiceURL, cfg.TableServiceKey, policy)

	// Redis backs both the refresh-token store and the row-index hint cache.
	// Without it, sessions fall back to Postgres and the hint cache is off.
	var sessions app.SessionStore = dataStore
	var cells *cellstore.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient := goredis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()

		log.Printf("using redis for refresh sessions and row-index hints")
		sessions = session.NewRedisStoreWithClient(redisClient)
		cells = cellstore.NewWithIndexCache(tableClient, cellstore.NewRedisIndexCacheWithClient(redisClient))
	} else {
		log.Printf("using postgres for refresh sessions; row-index hint cache disabled")
		cells = cellstore.New(tableClient)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, tableClient, cfg.Tables)

	var filesService *files.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		filesService, err = files.NewService(files.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio setup failed: %v", err)
		}
		if err := filesService.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: attachment bucket unavailable: %v", err)
		}
	}

	service := app.New(cfg, dataStore, sessions, cells, tableClient, searchService, filesService, authpw.NewService(dataStore))

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Slate API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
