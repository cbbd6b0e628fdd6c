package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"
)

// CompressionConfig controls the gzip middleware.
type CompressionConfig struct {
	// MinSize is the smallest body worth compressing. Below it the
	// gzip header overhead outweighs the savings.
	MinSize int
	// Level is the gzip compression level.
	Level int
	// CompressibleTypes lists the media types that compress usefully.
	CompressibleTypes []string
}

// DefaultCompressionConfig covers what this server actually emits:
// JSON payloads from the API plus the odd text response. Image bodies
// are already compressed and are never on the list.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		CompressibleTypes: []string{
			"application/json",
			"application/javascript",
			"application/xml",
			"text/html",
			"text/css",
			"text/plain",
			"text/javascript",
			"image/svg+xml",
		},
	}
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

// compressingWriter defers the compress-or-not decision until enough
// of the body has been seen. Everything up to MinSize is buffered;
// once the buffer overflows, the response commits to gzip when the
// content type qualifies, or passes through untouched.
type compressingWriter struct {
	http.ResponseWriter
	cfg CompressionConfig

	buf       []byte
	status    int
	committed bool
	gz        *gzip.Writer
}

func newCompressingWriter(w http.ResponseWriter, cfg CompressionConfig) *compressingWriter {
	return &compressingWriter{
		ResponseWriter: w,
		cfg:            cfg,
		status:         http.StatusOK,
		buf:            make([]byte, 0, cfg.MinSize+1),
	}
}

// WriteHeader records the status; it reaches the wire at commit time.
func (cw *compressingWriter) WriteHeader(status int) {
	if !cw.committed {
		cw.status = status
	}
}

func (cw *compressingWriter) Write(data []byte) (int, error) {
	if cw.committed {
		if cw.gz != nil {
			return cw.gz.Write(data)
		}
		return cw.ResponseWriter.Write(data)
	}

	cw.buf = append(cw.buf, data...)
	if len(cw.buf) > cw.cfg.MinSize {
		cw.commit()
	}
	return len(data), nil
}

func (cw *compressingWriter) typeQualifies() bool {
	ct := cw.Header().Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	for _, t := range cw.cfg.CompressibleTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// commit sends the header and the buffered prefix, compressed or not.
func (cw *compressingWriter) commit() {
	if cw.committed {
		return
	}
	cw.committed = true

	if len(cw.buf) >= cw.cfg.MinSize && cw.typeQualifies() {
		// The compressed length is unknowable up front.
		cw.Header().Del("Content-Length")
		cw.Header().Set("Content-Encoding", "gzip")
		cw.Header().Add("Vary", "Accept-Encoding")

		cw.gz = gzipPool.Get().(*gzip.Writer)
		cw.gz.Reset(cw.ResponseWriter)
		cw.ResponseWriter.WriteHeader(cw.status)
		cw.gz.Write(cw.buf)
	} else {
		cw.ResponseWriter.WriteHeader(cw.status)
		cw.ResponseWriter.Write(cw.buf)
	}
	cw.buf = nil
}

// Close flushes short responses that never overflowed the buffer and
// returns the gzip writer to the pool.
func (cw *compressingWriter) Close() error {
	cw.commit()
	if cw.gz == nil {
		return nil
	}
	err := cw.gz.Close()
	gzipPool.Put(cw.gz)
	cw.gz = nil
	return err
}

// Flush implements http.Flusher.
func (cw *compressingWriter) Flush() {
	cw.commit()
	if cw.gz != nil {
		cw.gz.Flush()
	}
	if f, ok := cw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Push implements http.Pusher.
func (cw *compressingWriter) Push(target string, opts *http.PushOptions) error {
	if p, ok := cw.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

// Compression gzips qualifying responses for clients that accept it.
// Event streams and protocol upgrades bypass the buffer entirely;
// buffering would hold back the incremental writes they depend on.
func Compression(cfg CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
				r.Header.Get("Upgrade") != "" ||
				r.Header.Get("Accept") == "text/event-stream" {
				next.ServeHTTP(w, r)
				return
			}

			cw := newCompressingWriter(w, cfg)
			defer cw.Close()
			next.ServeHTTP(cw, r)
		})
	}
}
