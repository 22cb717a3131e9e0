package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// echoHandler отвечает телом запроса с префиксом и тем же Content-Type.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("echo: " + string(body)))
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

// responseText возвращает тело ответа, распаковывая его при необходимости.
func responseText(t *testing.T, res *http.Response) string {
	t.Helper()

	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(res.Body)
		if err != nil {
			t.Fatalf("new gzip reader: %v", err)
		}
		defer zr.Close()
		r = zr
	}

	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		compressBody   bool
		acceptEncoding string
		contentType    string
		wantEncoding   string
	}{
		{
			name:           "json listing compressed",
			body:           `{"name":"Trail Runner"}`,
			acceptEncoding: "gzip",
			contentType:    "application/json",
			wantEncoding:   "gzip",
		},
		{
			name:           "accept-encoding list with gzip",
			body:           "trail shoes",
			acceptEncoding: "br, gzip;q=0.8",
			contentType:    "text/plain",
			wantEncoding:   "gzip",
		},
		{
			name:        "client without gzip gets plain body",
			body:        `{"sku":"SKU-1"}`,
			contentType: "application/json",
		},
		{
			name:         "compressed request, plain response",
			body:         `{"quantity":3}`,
			compressBody: true,
			contentType:  "application/json",
		},
		{
			name:           "compressed request and response",
			body:           `{"items":[{"product_id":"p-1"}]}`,
			compressBody:   true,
			acceptEncoding: "gzip",
			contentType:    "application/json",
			wantEncoding:   "gzip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.compressBody {
				body = gzipBytes(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
			req.Header.Set("Content-Type", tt.contentType)
			if tt.compressBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != http.StatusOK {
				t.Fatalf("status: got %d want %d", res.StatusCode, http.StatusOK)
			}
			if ct := res.Header.Get("Content-Type"); ct != tt.contentType {
				t.Fatalf("content-type: got %q want %q", ct, tt.contentType)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.wantEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.wantEncoding)
			}
			if got := responseText(t, res); got != "echo: "+tt.body {
				t.Fatalf("body: got %q want %q", got, "echo: "+tt.body)
			}
		})
	}
}

func TestGzipMiddleware_RejectsBrokenBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/products", strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGzipMiddleware_DropsContentLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "11")
		_, _ = w.Write([]byte("hello world"))
	})).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.Header.Get("Content-Length") != "" {
		t.Fatalf("content-length must be dropped for compressed responses")
	}
	if body := responseText(t, res); body != "hello world" {
		t.Fatalf("body: got %q", body)
	}
}

func TestGzipMiddleware_HidesAcceptEncodingFromNext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	var seen string
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("Accept-Encoding")
	})).ServeHTTP(httptest.NewRecorder(), req)

	if seen != "" {
		t.Fatalf("next handler saw Accept-Encoding %q, response would be compressed twice", seen)
	}
}

func TestGzipMiddleware_LeavesBodilessResponsesAlone(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		handler http.HandlerFunc
	}{
		{
			name:    "no content",
			status:  http.StatusNoContent,
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) },
		},
		{
			name:    "not modified",
			status:  http.StatusNotModified,
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotModified) },
		},
		{
			name:    "ok without body",
			status:  http.StatusOK,
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		},
		{
			name:   "empty write",
			status: http.StatusAccepted,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write(nil)
			},
		},
		{
			name:    "handler writes nothing",
			status:  http.StatusOK,
			handler: func(w http.ResponseWriter, r *http.Request) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/api/products/p-1", nil)
			req.Header.Set("Accept-Encoding", "gzip")

			w := httptest.NewRecorder()
			GzipMiddleware(tt.handler).ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status: got %d want %d", w.Code, tt.status)
			}
			if ce := w.Header().Get("Content-Encoding"); ce != "" {
				t.Fatalf("content-encoding: got %q for a response without body", ce)
			}
			if w.Body.Len() != 0 {
				t.Fatalf("body: got %d bytes, want none", w.Body.Len())
			}
		})
	}
}

func TestGzipMiddleware_KeepsHandlerEncoding(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept-Encoding", "gzip")

	payload := gzipBytes(t, "already compressed").Bytes()

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(payload)
	})).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if body := responseText(t, res); body != "already compressed" {
		t.Fatalf("body: got %q, response was compressed twice", body)
	}
}
