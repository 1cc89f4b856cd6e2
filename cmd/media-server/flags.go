package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values, validated by parseFlags,
// prior to translation into server.Config by main.go.
type cliConfig struct {
	listenAddr  string
	logLevel    string
	showVersion bool

	openConnectionsLimit int
	workerPoolSize       int

	requestReadTimeout time.Duration
	bodyReadTimeout    time.Duration
	writeTimeout       time.Duration

	handshakeExecutorThreads int
	handshakeTimeout         time.Duration
	handshakeCap             int
	secureRequired           bool
	tlsCertFile              string
	tlsKeyFile               string

	catalogDSN               string
	lruSize                  int
	transactionRetryAttempts int
	blobBackend              string
	blobRoot                 string
	blobAccount              string
	blobContainer            string

	invalidateCron string
	invalidatePath string

	hookConcurrency int
	hookTimeout     time.Duration
}

func parseFlags(args []string) (_ *cliConfig, err error) {
	fs := flag.NewFlagSet("media-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.listenAddr, "listen", ":9545", "TCP listen address (e.g. :9545 or 0.0.0.0:9545)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.IntVar(&cfg.openConnectionsLimit, "open-connections-limit", 256, "Maximum concurrently open sockets")
	fs.IntVar(&cfg.workerPoolSize, "worker-pool-size", 256, "Maximum concurrently active request handlers")

	fs.DurationVar(&cfg.requestReadTimeout, "request-read-timeout", 30*time.Second, "Deadline for reading a request header")
	fs.DurationVar(&cfg.bodyReadTimeout, "body-read-timeout", 30*time.Second, "Deadline for reading a request body")
	fs.DurationVar(&cfg.writeTimeout, "write-timeout", 30*time.Second, "Deadline for writing a response")

	fs.IntVar(&cfg.handshakeExecutorThreads, "handshake-executor-threads", 4, "Worker threads performing background TLS handshakes")
	fs.DurationVar(&cfg.handshakeTimeout, "handshake-timeout", 10*time.Second, "Deadline for a single TLS handshake")
	fs.IntVar(&cfg.handshakeCap, "handshake-cap", 0, "Ready-socket tray size for background handshaking (0 disables it)")
	fs.BoolVar(&cfg.secureRequired, "secure-required", false, "Reject connections whose TLS handshake fails instead of falling back to cleartext")
	fs.StringVar(&cfg.tlsCertFile, "tls-cert", "", "PEM certificate file (enables TLS when set with -tls-key)")
	fs.StringVar(&cfg.tlsKeyFile, "tls-key", "", "PEM private key file")

	fs.StringVar(&cfg.catalogDSN, "catalog-dsn", "catalog.db", "SQLite DSN for the media catalog")
	fs.IntVar(&cfg.lruSize, "lru-size", 1024, "Bounded LRU size for point media lookups")
	fs.IntVar(&cfg.transactionRetryAttempts, "transaction-retry-attempts", 3, "Retries on a catalog serialization failure before surfacing StoreUnavailable")
	fs.StringVar(&cfg.blobBackend, "blob-backend", "fs", "Blob store backend: fs|azure")
	fs.StringVar(&cfg.blobRoot, "blob-root", "blobs", "Root directory for the fs blob backend")
	fs.StringVar(&cfg.blobAccount, "blob-account-url", "", "Azure Blob Storage service URL (azure backend)")
	fs.StringVar(&cfg.blobContainer, "blob-container", "media", "Azure Blob Storage container name (azure backend)")

	fs.StringVar(&cfg.invalidateCron, "invalidate-cron", "", "Cron schedule clearing the brief-listing cache (empty disables)")
	fs.StringVar(&cfg.invalidatePath, "invalidate-watch-path", "", "File path whose writes clear the brief-listing cache (empty disables)")

	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent lifecycle-hook executions")
	fs.DurationVar(&cfg.hookTimeout, "hook-timeout", 30*time.Second, "Timeout for a single lifecycle-hook execution")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// The flag package prints its own parse errors; validation errors
	// below are printed here.
	defer func() {
		if err != nil {
			fmt.Fprintln(fs.Output(), err)
		}
	}()

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	switch cfg.blobBackend {
	case "fs", "azure":
	default:
		return nil, fmt.Errorf("invalid blob-backend %q, must be 'fs' or 'azure'", cfg.blobBackend)
	}

	if cfg.blobBackend == "azure" && cfg.blobAccount == "" {
		return nil, fmt.Errorf("blob-account-url is required when blob-backend=azure")
	}

	if (cfg.tlsCertFile == "") != (cfg.tlsKeyFile == "") {
		return nil, fmt.Errorf("tls-cert and tls-key must both be set or both be empty")
	}

	if cfg.handshakeCap < 0 {
		return nil, fmt.Errorf("handshake-cap must not be negative")
	}

	if cfg.transactionRetryAttempts < 0 {
		return nil, fmt.Errorf("transaction-retry-attempts must not be negative")
	}

	return cfg, nil
}
