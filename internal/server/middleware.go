package server

import (
	"log/slog"
	"net/http"
	"time"
)

// ResponseWriterWrapper records the status code written by the wrapped
// handler.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// LogRequest is middleware that logs every request once it has been served.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		writer := &ResponseWriterWrapper{ResponseWriter: w}
		next.ServeHTTP(writer, r)

		status := writer.WrittenResponseCode
		if status == 0 {
			status = http.StatusOK
		}

		userAttrs := slog.Group("user", "ip", r.RemoteAddr)
		requestAttrs := slog.Group("request",
			"proto", r.Proto,
			"method", r.Method,
			"url", r.URL.String(),
			"duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond),
			"status_code", status,
		)

		switch {
		case status >= 500:
			slog.Error("Request", userAttrs, requestAttrs)
		case status >= 400:
			slog.Warn("Request", userAttrs, requestAttrs)
		default:
			slog.Info("Request", userAttrs, requestAttrs)
		}
	})
}

// LimitBody caps the request body at limit bytes.
func LimitBody(limit int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
