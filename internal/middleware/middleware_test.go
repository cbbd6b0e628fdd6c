package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMetricsResponseWriterCapturesStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	mrw := newMetricsResponseWriter(rr)

	if mrw.statusCode != http.StatusOK {
		t.Errorf("Default status = %d, want 200", mrw.statusCode)
	}

	mrw.WriteHeader(http.StatusNotFound)
	if mrw.statusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", mrw.statusCode)
	}
	if rr.Code != http.StatusNotFound {
		t.Errorf("Underlying status = %d, want 404", rr.Code)
	}
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("body"))
	}))

	for _, path := range []string{"/api/libraries", "/metrics", "/health"} {
		req := httptest.NewRequest("GET", path, http.NoBody)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusTeapot {
			t.Errorf("GET %s: status = %d, want 418", path, rr.Code)
		}
		if rr.Body.String() != "body" {
			t.Errorf("GET %s: body = %q, want 'body'", path, rr.Body.String())
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"Collection", "/api/libraries", "/api/libraries"},
		{"Library by id", "/api/libraries/550e8400-e29b", "/api/libraries/{id}"},
		{"Tree", "/api/libraries/550e8400-e29b/tree", "/api/libraries/{id}/tree"},
		{"Nested op", "/api/libraries/550e8400-e29b/scan/resume", "/api/libraries/{id}/scan/resume"},
		{"Trailing slash", "/api/libraries/", "/api/libraries/"},
		{"Health", "/health", "/health"},
		{"Version", "/version", "/version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizePath(tt.path); got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestResponseWriterTracksStatusAndBytes(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError) // ignored, header already sent
	n, err := rw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if rw.statusCode != http.StatusAccepted {
		t.Errorf("Status = %d, want 202", rw.statusCode)
	}
	if n != 5 || rw.bytesWritten != 5 {
		t.Errorf("Bytes = %d/%d, want 5/5", n, rw.bytesWritten)
	}
}

func TestResponseWriterImplicitOK(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := newResponseWriter(rr)

	if _, err := rw.Write([]byte("data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if rw.statusCode != http.StatusOK {
		t.Errorf("Status = %d, want implicit 200", rw.statusCode)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Plain", "GET /api/libraries", "GET /api/libraries"},
		{"Newline becomes space", "line1\nline2", "line1 line2"},
		{"Carriage return becomes space", "a\rb", "a b"},
		{"Null stripped", "a\x00b", "ab"},
		{"ANSI escape stripped", "a\x1b[31mred", "a[31mred"},
		{"Tab kept", "a\tb", "a\tb"},
		{"Other control stripped", "a\x07b", "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLogField(tt.input); got != tt.want {
				t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEscapeW3CField(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"curl/8.0", "curl/8.0"},
		{"Mozilla Firefox", "\"Mozilla Firefox\""},
		{"has\"quote", "\"has\"\"quote\""},
	}

	for _, tt := range tests {
		if got := escapeW3CField(tt.input); got != tt.want {
			t.Errorf("escapeW3CField(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "Remote addr only",
			remoteAddr: "192.168.1.10:54321",
			want:       "192.168.1.10",
		},
		{
			name:       "X-Forwarded-For single",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:       "203.0.113.5",
		},
		{
			name:       "X-Forwarded-For chain uses first",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.2"},
			want:       "203.0.113.5",
		},
		{
			name:       "X-Real-IP",
			remoteAddr: "10.0.0.1:1234",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			want:       "203.0.113.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestShouldSkip(t *testing.T) {
	base := DefaultLoggingConfig()

	t.Run("Configured skip prefix", func(t *testing.T) {
		cfg := base
		cfg.SkipPaths = []string{"/internal"}
		if !shouldSkip("/internal/debug", cfg) {
			t.Error("Expected configured prefix skipped")
		}
	})

	t.Run("Health checks logged by default", func(t *testing.T) {
		if shouldSkip("/livez", base) {
			t.Error("Health checks should be logged with the default config")
		}
	})

	t.Run("Health checks skippable", func(t *testing.T) {
		cfg := base
		cfg.LogHealthChecks = false
		if !shouldSkip("/livez", cfg) {
			t.Error("Expected health check skipped")
		}
	})

	t.Run("Static extensions skipped", func(t *testing.T) {
		if !shouldSkip("/assets/app.js", base) {
			t.Error("Expected static file skipped")
		}
	})

	t.Run("Static files loggable", func(t *testing.T) {
		cfg := base
		cfg.LogStaticFiles = true
		if shouldSkip("/assets/app.js", cfg) {
			t.Error("Expected static file logged")
		}
	})

	t.Run("API paths logged", func(t *testing.T) {
		if shouldSkip("/api/libraries", base) {
			t.Error("Expected API request logged")
		}
	})
}

func TestLoggerMiddlewarePassesThrough(t *testing.T) {
	handler := Logger(DefaultLoggingConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	}))

	req := httptest.NewRequest("POST", "/api/libraries", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Errorf("Status = %d, want 201", rr.Code)
	}
	if rr.Body.String() != "created" {
		t.Errorf("Body = %q, want 'created'", rr.Body.String())
	}
}

func compressionHandler(contentType string, body []byte) http.Handler {
	return Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write(body)
	}))
}

func TestCompressionCompressesLargeJSON(t *testing.T) {
	body := bytes.Repeat([]byte(`{"path":"photos/a.jpg"}`), 200)
	handler := compressionHandler("application/json", body)

	req := httptest.NewRequest("GET", "/api/libraries", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if enc := rr.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", enc)
	}

	gz, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	defer gz.Close()
	decoded, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Decompression failed: %v", err)
	}
	if !bytes.Equal(decoded, body) {
		t.Error("Decompressed body does not match original")
	}
}

func TestCompressionSkipsSmallResponses(t *testing.T) {
	handler := compressionHandler("application/json", []byte(`{"status":"ok"}`))

	req := httptest.NewRequest("GET", "/health", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if enc := rr.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none for a small body", enc)
	}
	if rr.Body.String() != `{"status":"ok"}` {
		t.Errorf("Body altered: %q", rr.Body.String())
	}
}

func TestCompressionSkipsNonCompressibleTypes(t *testing.T) {
	body := bytes.Repeat([]byte("jpegdata"), 500)
	handler := compressionHandler("image/jpeg", body)

	req := httptest.NewRequest("GET", "/thumb.jpg", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if enc := rr.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none for image content", enc)
	}
}

func TestCompressionRequiresAcceptEncoding(t *testing.T) {
	body := bytes.Repeat([]byte(`{"k":"v"}`), 500)
	handler := compressionHandler("application/json", body)

	req := httptest.NewRequest("GET", "/api/libraries", http.NoBody)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if enc := rr.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none without Accept-Encoding", enc)
	}
	if !bytes.Equal(rr.Body.Bytes(), body) {
		t.Error("Body altered for a client that cannot decompress")
	}
}

func TestCompressionSkipsEventStreams(t *testing.T) {
	handler := Compression(DefaultCompressionConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write(bytes.Repeat([]byte("event: scan.progress\ndata: {}\n\n"), 100))
	}))

	req := httptest.NewRequest("GET", "/api/libraries/abc/events", http.NoBody)
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Accept", "text/event-stream")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// Buffered compression would break incremental delivery.
	if enc := rr.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("Content-Encoding = %q, want none for SSE", enc)
	}
}
