package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
)

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

// gzipResponseWriter откладывает решение о сжатии до первого непустого Write:
// ответы без тела уходят как есть, без Content-Encoding и gzip-трейлера.
type gzipResponseWriter struct {
	http.ResponseWriter
	zw       *gzip.Writer
	status   int
	started  bool
	compress bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	if status < http.StatusOK {
		w.ResponseWriter.WriteHeader(status)
		return
	}
	if w.started || w.status != 0 {
		return
	}
	w.status = status
	if status == http.StatusNoContent || status == http.StatusNotModified ||
		w.Header().Get("Content-Encoding") != "" {
		w.start(false)
	}
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.started {
		if w.status == 0 {
			w.status = http.StatusOK
		}
		if len(b) == 0 {
			return 0, nil
		}
		w.start(w.Header().Get("Content-Encoding") == "")
	}
	if !w.compress {
		return w.ResponseWriter.Write(b)
	}
	return w.zw.Write(b)
}

func (w *gzipResponseWriter) start(compress bool) {
	w.started = true
	w.compress = compress
	if compress {
		h := w.Header()
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
		w.zw.Reset(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(w.status)
}

// finish отправляет отложенный статус пустого ответа или закрывает gzip-поток.
func (w *gzipResponseWriter) finish() error {
	if !w.started {
		if w.status != 0 {
			w.start(false)
		}
		return nil
	}
	if w.compress {
		return w.zw.Close()
	}
	return nil
}

// GzipMiddleware распаковывает тело запроса с Content-Encoding: gzip и сжимает
// ответ, если клиент принимает gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer zr.Close()
			r.Body = zr
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
		}

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		// ответ сжимается здесь, вложенные обработчики не должны сжимать его повторно
		r.Header.Del("Accept-Encoding")

		zw := gzipWriters.Get().(*gzip.Writer)
		defer gzipWriters.Put(zw)

		gw := &gzipResponseWriter{ResponseWriter: w, zw: zw}
		defer func() { _ = gw.finish() }()

		next.ServeHTTP(gw, r)
	})
}
