package hive

import (
	"bytes"
	"compress/gzip"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"
)

// LoggerConfig defines the configuration options for the Logger middleware.
type LoggerConfig struct {
	// Output specifies where logs are written (defaults to os.Stdout)
	Output io.Writer
	// Format specifies the log format: "json" or "text" (default: "text")
	Format string
	// SkipPaths lists paths to skip logging (e.g., health checks)
	SkipPaths []string
}

// DefaultLoggerConfig returns a LoggerConfig with sensible defaults.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Output: os.Stdout,
		Format: "text",
	}
}

// Logger returns middleware that logs each request once the final status is
// known.
func Logger() Middleware {
	return LoggerWithConfig(DefaultLoggerConfig())
}

// LoggerWithConfig returns a request-logging middleware with custom
// configuration.
func LoggerWithConfig(config LoggerConfig) Middleware {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Format == "" {
		config.Format = "text"
	}
	skipMap := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}

	return func(c *Context) int {
		if skipMap[c.Path()] {
			return StatusNext
		}
		start := time.Now()
		c.Defer(func(c *Context) {
			duration := time.Since(start)
			if config.Format == "json" {
				entry := map[string]interface{}{
					"time":      start.Format(time.RFC3339),
					"method":    c.Method(),
					"path":      c.Path(),
					"status":    c.Response.Status,
					"duration":  duration.Milliseconds(),
					"remote_ip": c.Request.ClientIP,
				}
				if reqID, ok := c.Get("request-id"); ok {
					entry["request_id"] = reqID
				}
				data, _ := json.Marshal(entry)
				_, _ = fmt.Fprintf(config.Output, "%s\n", data)
				return
			}
			_, _ = fmt.Fprintf(config.Output, "[%s] %s %s %d %dms\n",
				start.Format(time.RFC3339), c.Method(), c.Path(),
				c.Response.Status, duration.Milliseconds())
		})
		return StatusNext
	}
}

// CORSConfig holds CORS middleware configuration.
type CORSConfig struct {
	AllowOrigins []string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       time.Duration
}

// DefaultCORSConfig returns sensible CORS defaults.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
}

// CORS returns middleware that sets Cross-Origin Resource Sharing headers
// and answers preflight OPTIONS requests.
func CORS(config CORSConfig) Middleware {
	origins := strings.Join(config.AllowOrigins, ", ")
	methods := strings.Join(config.AllowMethods, ", ")
	headers := strings.Join(config.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(config.MaxAge.Seconds()))

	return func(c *Context) int {
		c.SetHeader("Access-Control-Allow-Origin", origins)
		if c.Method() == "OPTIONS" {
			c.SetHeader("Access-Control-Allow-Methods", methods)
			c.SetHeader("Access-Control-Allow-Headers", headers)
			c.SetHeader("Access-Control-Max-Age", maxAge)
			return c.NoContent(204)
		}
		return StatusNext
	}
}

// RequestID returns middleware that attaches a unique request ID to each
// request, reusing a client-provided X-Request-ID when present.
func RequestID() Middleware {
	return func(c *Context) int {
		id := c.Request.Headers.Get("X-Request-ID")
		if id == "" {
			id = generateRequestID()
		}
		c.Set("request-id", id)
		c.SetHeader("X-Request-ID", id)
		return StatusNext
	}
}

func generateRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}

// CompressConfig holds configuration for the Compress middleware.
type CompressConfig struct {
	// MinLength is the smallest body worth compressing.
	MinLength int
	// Level is the gzip compression level; 0 selects gzip.DefaultCompression.
	Level int
	// SkipContentTypes lists content-type prefixes left uncompressed.
	SkipContentTypes []string
}

// DefaultCompressConfig returns a CompressConfig with sensible defaults.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		MinLength:        1024,
		Level:            gzip.DefaultCompression,
		SkipContentTypes: []string{"image/", "video/", "audio/"},
	}
}

// Compress returns middleware that compresses response bodies with brotli or
// gzip according to Accept-Encoding.
func Compress() Middleware {
	return CompressWithConfig(DefaultCompressConfig())
}

// CompressWithConfig returns a body-compression middleware with custom
// configuration.
func CompressWithConfig(config CompressConfig) Middleware {
	if config.MinLength <= 0 {
		config.MinLength = 1024
	}
	if config.Level == 0 {
		config.Level = gzip.DefaultCompression
	}
	return func(c *Context) int {
		accept := c.Request.Headers.Get("Accept-Encoding")
		if accept == "" {
			return StatusNext
		}
		c.Defer(func(c *Context) {
			resp := c.Response
			// Only handler-produced bodies are touched; cached file content
			// is shared and must not be rewritten.
			if resp.Content != nil || len(resp.Body) < config.MinLength {
				return
			}
			if resp.Headers.Has("Content-Encoding") {
				return
			}
			for _, skip := range config.SkipContentTypes {
				if strings.HasPrefix(resp.ContentType, skip) {
					return
				}
			}
			var buf bytes.Buffer
			var encoding string
			switch {
			case strings.Contains(accept, "br"):
				encoding = "br"
				w := brotli.NewWriter(&buf)
				_, _ = w.Write(resp.Body)
				_ = w.Close()
			case strings.Contains(accept, "gzip"):
				encoding = "gzip"
				w, err := gzip.NewWriterLevel(&buf, config.Level)
				if err != nil {
					return
				}
				_, _ = w.Write(resp.Body)
				_ = w.Close()
			default:
				return
			}
			if buf.Len() >= len(resp.Body) {
				return
			}
			resp.Body = append(resp.Body[:0], buf.Bytes()...)
			resp.Headers.Set("Content-Encoding", encoding)
			resp.Headers.Set("Vary", "Accept-Encoding")
		})
		return StatusNext
	}
}
