package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/mediasrv/internal/logger"
	"github.com/alxayo/mediasrv/internal/mediaproto/blobstore/azureblob"
	"github.com/alxayo/mediasrv/internal/mediaproto/blobstore/fsblob"
	"github.com/alxayo/mediasrv/internal/mediaproto/catalog"
	"github.com/alxayo/mediasrv/internal/mediaproto/hooks"
	"github.com/alxayo/mediasrv/internal/mediaproto/media"
	srv "github.com/alxayo/mediasrv/internal/mediaproto/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// parseFlags (or the flag package) already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	store, err := buildBlobStore(cfg)
	if err != nil {
		log.Error("failed to build blob store", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Open(cfg.catalogDSN, store, catalog.Config{
		TransactionRetryAttempts: cfg.transactionRetryAttempts,
		LRUSize:                  cfg.lruSize,
	})
	if err != nil {
		log.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}

	closers := registerInvalidators(cfg, cat, log)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		log.Error("failed to build TLS config", "error", err)
		os.Exit(1)
	}

	server := srv.New(srv.Config{
		ListenAddr:               cfg.listenAddr,
		OpenConnectionsLimit:     cfg.openConnectionsLimit,
		WorkerPoolSize:           cfg.workerPoolSize,
		RequestReadTimeout:       cfg.requestReadTimeout,
		BodyReadTimeout:          cfg.bodyReadTimeout,
		WriteTimeout:             cfg.writeTimeout,
		HandshakeExecutorThreads: cfg.handshakeExecutorThreads,
		HandshakeTimeout:         cfg.handshakeTimeout,
		HandshakeCap:             cfg.handshakeCap,
		SecureConnectionRequired: cfg.secureRequired,
		TLSConfig:                tlsConfig,
		HookConfig: hooks.Config{
			Concurrency: cfg.hookConcurrency,
			Timeout:     cfg.hookTimeout,
		},
	}, cat)

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-time.After(10 * time.Second):
		log.Error("forced exit after shutdown timeout")
	}
}

func buildBlobStore(cfg *cliConfig) (media.BlobStore, error) {
	switch cfg.blobBackend {
	case "azure":
		return azureblob.New(cfg.blobAccount, cfg.blobContainer)
	default:
		return fsblob.New(cfg.blobRoot), nil
	}
}

func buildTLSConfig(cfg *cliConfig) (*tls.Config, error) {
	if cfg.tlsCertFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.tlsCertFile, cfg.tlsKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

func registerInvalidators(cfg *cliConfig, cat *catalog.Catalog, log interface {
	Warn(msg string, args ...any)
}) []func() {
	var closers []func()

	if cfg.invalidateCron != "" {
		inv, err := catalog.StartCronInvalidator(cat, cfg.invalidateCron)
		if err != nil {
			log.Warn("invalid invalidate-cron schedule, ignoring", "error", err)
		} else {
			closers = append(closers, func() { inv.Stop() })
		}
	}

	if cfg.invalidatePath != "" {
		inv, err := catalog.StartFileWatchInvalidator(cat, cfg.invalidatePath)
		if err != nil {
			log.Warn("failed to start invalidate-watch-path watcher, ignoring", "error", err)
		} else {
			closers = append(closers, func() { inv.Stop() })
		}
	}

	return closers
}
