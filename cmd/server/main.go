package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nepojang/internal/api"
	"nepojang/internal/auth"
	"nepojang/internal/config"
	"nepojang/internal/db"
	"nepojang/internal/logging"
	"nepojang/internal/names"
	"nepojang/internal/pki"
	"nepojang/internal/redis"
	"nepojang/internal/security"
	"nepojang/internal/store"
	"nepojang/internal/textures"
)

const failureWindow = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_server", "http_addr", cfg.HTTPAddr, "tls", cfg.TLSEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Certificates and signing keys come first; nothing serves without them.
	bootstrap := pki.New(logger, cfg.PKIDir, cfg.Hostnames, cfg.PKIOverwrite)
	if err := bootstrap.Run(); err != nil {
		logger.Error("pki_bootstrap_failed", "error", err)
		os.Exit(1)
	}

	jwtKey, err := pki.LoadJWTKey(cfg.PKIDir)
	if err != nil {
		logger.Error("jwt_key_load_failed", "error", err)
		os.Exit(1)
	}

	if err := db.Migrate(cfg.DBDSN); err != nil {
		logger.Error("db_migrate_failed", "error", err)
		os.Exit(1)
	}

	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	var textureStore textures.Store
	if cfg.S3Bucket != "" {
		textureStore, err = textures.NewS3Store(textures.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			logger.Error("texture_store_failed", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("texture_store_in_memory", "reason", "no S3 bucket configured")
		textureStore = textures.NewMemoryStore(cfg.S3PublicURL)
	}

	st := store.NewPostgres(dbConn.Pool)
	authEngine := auth.NewEngine(logger, st, auth.NewSigner(jwtKey))
	nameEngine := names.NewEngine(logger, st)
	failures := security.NewFailureTracker(redisClient, cfg.FailureLimit, failureWindow)

	srv := api.NewServer(logger, cfg, st, authEngine, nameEngine, textureStore, failures, redisClient)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		var serveErr error
		if cfg.TLSEnabled {
			serveErr = httpServer.ListenAndServeTLS(bootstrap.LeafCertPath(), bootstrap.LeafKeyPath())
		} else {
			serveErr = httpServer.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	logger.Info("server_started", "addr", cfg.HTTPAddr)

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
}
