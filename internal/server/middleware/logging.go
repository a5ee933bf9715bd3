package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Logger returns an HTTP middleware that logs every request using structured
// logging. It captures the method, path, status code, response size, duration,
// request ID, and remote address, plus any attributes inner middleware added
// with Annotate.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			notes := &annotations{}
			ctx := context.WithValue(r.Context(), annotationsKey{}, notes)

			next.ServeHTTP(ww, r.WithContext(ctx))

			duration := time.Since(start)
			level := slog.LevelInfo
			if ww.status >= 500 {
				level = slog.LevelError
			} else if ww.status >= 400 {
				level = slog.LevelWarn
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Float64("duration_ms", float64(duration.Microseconds())/1000.0),
				slog.Int("bytes", ww.bytes),
				slog.String("request_id", GetRequestID(ctx)),
				slog.String("remote_addr", r.RemoteAddr),
			}
			attrs = append(attrs, notes.list()...)
			logger.LogAttrs(ctx, level, "request", attrs...)
		})
	}
}

type annotationsKey struct{}

// annotations collects attributes for the request log line.
type annotations struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

func (a *annotations) list() []slog.Attr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]slog.Attr(nil), a.attrs...)
}

// Annotate adds attributes to the request log line written by Logger. It is a
// no-op outside a Logger-wrapped request.
func Annotate(ctx context.Context, attrs ...slog.Attr) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.attrs = append(a.attrs, attrs...)
	a.mu.Unlock()
}

// responseWriter wraps http.ResponseWriter to capture the status code and
// bytes written for logging purposes.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter, required for http.Flusher
// and other interface assertions through middleware chains.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
