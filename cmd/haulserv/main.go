package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haulbit/haulbit/internal/config"
	"github.com/haulbit/haulbit/internal/httpapi"
	"github.com/haulbit/haulbit/internal/logging"
	"github.com/haulbit/haulbit/internal/upload"
)

const serverVersion = "v0.1.0"

func main() {
	if hasFlag(os.Args[1:], "-h", "--help", "help") {
		printUsage()
		return
	}
	if hasFlag(os.Args[1:], "-v", "--version", "version") {
		fmt.Println(serverVersion)
		return
	}

	cfg := config.ParseServerConfig()
	logger := logging.New("haulserv", cfg.LogLevel)

	store, err := upload.NewChunkStore(cfg.BaseDir, cfg.TempDirPrefix, logger)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		os.Exit(1)
	}

	registry := upload.NewRegistry(logger)
	assembler := upload.NewAssembler(store, logger)
	validator := upload.NewValidator(upload.Limits{
		MaxChunkSize:      cfg.MaxChunkSize,
		MaxChunkCount:     cfg.MaxChunkCount,
		MaxFileSize:       cfg.MaxFileSize,
		AllowedExtensions: cfg.AllowedExtensions,
		BlockedExtensions: cfg.BlockedExtensions,
	})
	hub := upload.NewHub()
	coord := upload.NewCoordinator(registry, store, assembler, validator, hub, cfg.MaxConcurrentUploads, cfg.IOPoolSize, logger)

	api := httpapi.New(coord, httpapi.Options{
		MaxChunkSize: cfg.MaxChunkSize,
		CORS: httpapi.CORSConfig{
			Origins:          cfg.CORSOrigins,
			Methods:          cfg.CORSMethods,
			Headers:          cfg.CORSHeaders,
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           cfg.CORSMaxAge,
		},
	}, logger)
	handler := api.Handler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoCleanup {
		go coord.RunJanitor(ctx, time.Hour, time.Duration(cfg.CleanupDelayHours)*time.Hour)
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 5 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "base_dir", cfg.BaseDir)
		errCh <- srv.ListenAndServe()
	}()

	var h3 *httpapi.HTTP3Server
	if cfg.HTTP3Addr != "" && cfg.TLSCert != "" && cfg.TLSKey != "" {
		h3 = httpapi.NewHTTP3Server(cfg.HTTP3Addr, handler, logger)
		go func() {
			errCh <- h3.ListenAndServe(cfg.TLSCert, cfg.TLSKey)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if h3 != nil {
		if err := h3.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http3 shutdown", "error", err)
		}
	}
}

func hasFlag(args []string, names ...string) bool {
	for _, a := range args {
		for _, n := range names {
			if a == n {
				return true
			}
		}
	}
	return false
}

func printUsage() {
	fmt.Print(`haulserv - resumable chunked-upload server

Usage:
  haulserv [flags]

Key flags:
  -addr string                 listen address (default ":8080")
  -base-dir string             storage base directory (default "uploads")
  -temp-prefix string          temporary directory prefix (default "temp_")
  -max-chunk-size int          maximum chunk size in bytes (default 100 MiB)
  -max-chunk-count int         maximum chunks per session (default 10000)
  -max-concurrent-uploads int  chunk writes in flight (default 10)
  -auto-cleanup                remove old terminal sessions (default true)
  -http3-addr string           optional HTTP/3 listen address (needs TLS)
  -tls-cert / -tls-key         TLS material for HTTP/3
  -log-level string            debug, info, warn, error (default "info")

Environment variables (HAULBIT_ADDR, HAULBIT_BASE_DIR, ...) are read first;
flags override them.
`)
}
