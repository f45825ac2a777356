package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Byte size constants for defaults.
const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

// ServerConfig holds configuration for the haulserv binary.
type ServerConfig struct {
	Addr     string
	LogLevel string

	// Storage
	BaseDir       string // destination directory for assembled files and temp chunk dirs
	TempDirPrefix string

	// Chunk limits
	DefaultChunkSize int64
	MaxChunkSize     int64
	MaxChunkCount    int
	MaxFileSize      int64

	// Cleanup of terminal sessions
	AutoCleanup       bool
	CleanupDelayHours int

	// Validation
	AllowedExtensions []string // empty = permit anything not blocked
	BlockedExtensions []string

	// Concurrency
	MaxConcurrentUploads int
	IOPoolSize           int

	// CORS
	CORSOrigins          []string
	CORSMethods          []string
	CORSHeaders          []string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Optional HTTP/3 listener. Requires TLSCert and TLSKey.
	HTTP3Addr string
	TLSCert   string
	TLSKey    string
}

// ClientConfig holds configuration for the haul binary.
type ClientConfig struct {
	ServerURL    string
	LogLevel     string
	ChunkSize    int64
	Concurrency  int
	MaxRetries   int
	RetryBase    time.Duration
	ChunkTimeout time.Duration
	Binary       bool // raw-binary chunk endpoint instead of multipart
	HTTP3        bool
}

// ParseServerConfig parses server configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseServerConfig() ServerConfig {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) ServerConfig {
	cfg := ServerConfig{
		Addr:                 ":8080",
		LogLevel:             "info",
		BaseDir:              "uploads",
		TempDirPrefix:        "temp_",
		DefaultChunkSize:     5 * mib,
		MaxChunkSize:         100 * mib,
		MaxChunkCount:        10000,
		MaxFileSize:          50 * gib,
		AutoCleanup:          true,
		CleanupDelayHours:    24,
		BlockedExtensions:    []string{"exe", "bat", "cmd", "scr", "com", "pif"},
		MaxConcurrentUploads: 10,
		IOPoolSize:           4,
		CORSOrigins:          []string{"http://localhost:4200", "http://localhost:4201"},
		CORSMethods:          []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		CORSHeaders:          []string{"*"},
		CORSAllowCredentials: true,
		CORSMaxAge:           3600,
	}

	// Read from environment first
	if v := os.Getenv("HAULBIT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("HAULBIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HAULBIT_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("HAULBIT_TEMP_PREFIX"); v != "" {
		cfg.TempDirPrefix = v
	}
	if v, ok := envInt64("HAULBIT_MAX_CHUNK_SIZE"); ok {
		cfg.MaxChunkSize = v
	}
	if v, ok := envInt("HAULBIT_MAX_CHUNK_COUNT"); ok {
		cfg.MaxChunkCount = v
	}
	if v, ok := envInt64("HAULBIT_MAX_FILE_SIZE"); ok {
		cfg.MaxFileSize = v
	}
	if v := os.Getenv("HAULBIT_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitList(v)
	}
	if v := os.Getenv("HAULBIT_BLOCKED_EXTENSIONS"); v != "" {
		cfg.BlockedExtensions = splitList(v)
	}
	if v := os.Getenv("HAULBIT_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	// Flags override environment
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.BaseDir, "base-dir", cfg.BaseDir, "storage base directory")
	fs.StringVar(&cfg.TempDirPrefix, "temp-prefix", cfg.TempDirPrefix, "temporary directory prefix")
	fs.Int64Var(&cfg.MaxChunkSize, "max-chunk-size", cfg.MaxChunkSize, "maximum chunk size in bytes")
	fs.IntVar(&cfg.MaxChunkCount, "max-chunk-count", cfg.MaxChunkCount, "maximum chunks per session")
	fs.Int64Var(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "maximum assembled file size in bytes")
	fs.BoolVar(&cfg.AutoCleanup, "auto-cleanup", cfg.AutoCleanup, "periodically remove old terminal sessions")
	fs.IntVar(&cfg.CleanupDelayHours, "cleanup-delay-hours", cfg.CleanupDelayHours, "age in hours before a terminal session is removed")
	fs.IntVar(&cfg.MaxConcurrentUploads, "max-concurrent-uploads", cfg.MaxConcurrentUploads, "maximum chunk writes in flight")
	fs.IntVar(&cfg.IOPoolSize, "io-pool-size", cfg.IOPoolSize, "worker pool size for blocking I/O")
	fs.StringVar(&cfg.HTTP3Addr, "http3-addr", cfg.HTTP3Addr, "optional HTTP/3 (QUIC) listen address")
	fs.StringVar(&cfg.TLSCert, "tls-cert", cfg.TLSCert, "TLS certificate file (required for HTTP/3)")
	fs.StringVar(&cfg.TLSKey, "tls-key", cfg.TLSKey, "TLS key file (required for HTTP/3)")
	allowed := fs.String("allowed-extensions", "", "comma-separated extension allow-list (empty allows any not blocked)")
	blocked := fs.String("blocked-extensions", "", "comma-separated extension block-list")
	origins := fs.String("cors-origins", "", "comma-separated CORS origins")

	fs.Parse(args)

	if *allowed != "" {
		cfg.AllowedExtensions = splitList(*allowed)
	}
	if *blocked != "" {
		cfg.BlockedExtensions = splitList(*blocked)
	}
	if *origins != "" {
		cfg.CORSOrigins = splitList(*origins)
	}

	return cfg
}

// ParseClientConfig parses client configuration from flags and environment
// variables. Flags take precedence over environment variables.
func ParseClientConfig(args []string) (ClientConfig, []string) {
	return parseClientConfigWithFlagSet(flag.NewFlagSet("haul", flag.ExitOnError), args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, []string) {
	cfg := ClientConfig{
		ServerURL:    "http://localhost:8080",
		LogLevel:     "info",
		ChunkSize:    5 * mib,
		Concurrency:  3,
		MaxRetries:   3,
		RetryBase:    500 * time.Millisecond,
		ChunkTimeout: 30 * time.Second,
	}

	if v := os.Getenv("HAULBIT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("HAULBIT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envInt64("HAULBIT_CHUNK_SIZE"); ok {
		cfg.ChunkSize = v
	}
	if v, ok := envInt("HAULBIT_CONCURRENCY"); ok {
		cfg.Concurrency = v
	}

	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "upload server base URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.Int64Var(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "chunk size in bytes")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "concurrent chunk sends (1-5 typical)")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "send attempts per chunk, including the first")
	fs.DurationVar(&cfg.RetryBase, "retry-base", cfg.RetryBase, "base retry delay")
	fs.DurationVar(&cfg.ChunkTimeout, "chunk-timeout", cfg.ChunkTimeout, "per-chunk request timeout")
	fs.BoolVar(&cfg.Binary, "binary", cfg.Binary, "use the raw-binary chunk endpoint")
	fs.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "use HTTP/3 transport")

	fs.Parse(args)

	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 5 * mib
	}

	return cfg, fs.Args()
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envInt64(name string) (int64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
