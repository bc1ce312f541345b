package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// newRuntimeLogger builds the process logger. Runtime logs always go
// to stderr so stdout stays free for command output.
func newRuntimeLogger(level string) (*slog.Logger, error) {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// newAccessLogger returns the access-log sink: stderr when path is
// empty, otherwise an append-only file the caller must close.
func newAccessLogger(path string) (*slog.Logger, io.Closer, error) {
	if strings.TrimSpace(path) == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, nil)), nil, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open access log %q: %w", path, err)
	}
	return slog.New(slog.NewJSONHandler(f, nil)), f, nil
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (debug|info|warn|error)", level)
}

// accessLog emits one line per completed request.
func accessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		code := rec.code
		if code == 0 {
			code = http.StatusOK
		}
		logger.Info("access",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", code),
			slog.Int("bytes_out", rec.bytes),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	code  int
	bytes int
}

func (rec *responseRecorder) WriteHeader(statusCode int) {
	rec.code = statusCode
	rec.ResponseWriter.WriteHeader(statusCode)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	if rec.code == 0 {
		rec.code = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(p)
	rec.bytes += n
	return n, err
}

func (rec *responseRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

// serveAsync runs srv on ln in the background. An unexpected serve
// error cancels the process context.
func serveAsync(logger *slog.Logger, name string, srv *http.Server, ln net.Listener, cancel func()) {
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listener_failed", slog.String("listener", name), slog.Any("err", err))
			if cancel != nil {
				cancel()
			}
		}
	}()
}
