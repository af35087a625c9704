package hive

import (
	"io"
	"log"
	"time"
)

// Config holds the server configuration options.
type Config struct {
	Addr           string      // Server address to bind to
	Multicore      bool        // Enable multicore mode for better performance
	NumEventLoop   int         // Number of event loops (0 for auto-detect)
	ReusePort      bool        // Enable SO_REUSEPORT for load balancing
	MaxConnections uint32      // Maximum concurrent connections
	Logger         *log.Logger // Logger for server events
	SSL            bool        // Connections arrive TLS-terminated

	DocumentRoot string // Static file root; empty disables static serving
	IndexFile    string // Directory index file name
	ErrorPage    string // Custom error page path relative to DocumentRoot

	// LimitRate throttles large-file streaming in KiB/s: 0 forbids large
	// files, negative means unlimited.
	LimitRate int
	// MaxFileCacheSize caps how large a file may be served through the file
	// cache; bigger files stream instead.
	MaxFileCacheSize int64

	EnableForwardProxy  bool
	Proxies             map[string]string // path prefix -> upstream URL
	ProxyConnectTimeout time.Duration
	ProxyReadTimeout    time.Duration
	ProxyWriteTimeout   time.Duration

	// PingInterval enables the WebSocket heartbeat.
	PingInterval time.Duration

	EnableAccessLog bool
	// WorkerPoolSize bounds the pool running deferred handlers.
	WorkerPoolSize int
}

// newSilentLogger creates a logger that discards all output.
func newSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		Multicore:        true,
		NumEventLoop:     0, // Auto-detect
		ReusePort:        true,
		MaxConnections:   10000,
		Logger:           newSilentLogger(),
		IndexFile:        "index.html",
		LimitRate:        -1,
		MaxFileCacheSize: 1 << 22, // 4 MiB
		WorkerPoolSize:   256,
	}
}

// Validate checks and normalizes the configuration values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = 10000
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.IndexFile == "" {
		c.IndexFile = "index.html"
	}
	if c.MaxFileCacheSize <= 0 {
		c.MaxFileCacheSize = 1 << 22
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 256
	}
	return nil
}
