package httpserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

type contextKey string

const (
	requestLoggerKey contextKey = "statbar.request.logger"
	requestIDHeader             = "X-Request-ID"
)

var errHijackUnsupported = errors.New("httpserver: response writer does not support hijacking")

// statusRecorder captures the response status and size. Other optional
// interfaces are reached through Unwrap by http.ResponseController.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rec *statusRecorder) WriteHeader(status int) {
	if rec.status == 0 {
		rec.status = status
	}
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}

// Hijack is forwarded explicitly for the WebSocket upgrade.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errHijackUnsupported
	}
	if rec.status == 0 {
		rec.status = http.StatusSwitchingProtocols
	}
	return hj.Hijack()
}

func (rec *statusRecorder) code() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.requestIDs.Add(1)
		w.Header().Set(requestIDHeader, strconv.FormatUint(reqID, 10))

		attrs := []any{"req_id", reqID, "method", r.Method, "path", r.URL.Path}
		if r.RemoteAddr != "" {
			attrs = append(attrs, "remote_addr", r.RemoteAddr)
		}
		logger := s.logger.With(attrs...)

		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestLoggerKey, logger)))

		// Successful requests log at debug.
		level := slog.LevelDebug
		if rec.code() >= http.StatusBadRequest {
			level = slog.LevelInfo
		}
		logger.Log(r.Context(), level, "request complete",
			"status", rec.code(),
			"duration", time.Since(start),
			"bytes", rec.written,
		)
	})
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok {
		return logger
	}
	return s.logger
}
