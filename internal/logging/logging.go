// Package logging wires zap for the file browser. Besides the process-wide
// logger it keeps a per-request logger that carries the request ID and, once
// the request is authenticated, the identity whose root it acts on.
package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader is read from incoming requests and echoed on responses.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestKey
)

// requestState is shared between the access log and the handlers of one
// request. Handlers fill in the identity; the access log reads it when the
// request completes.
type requestState struct {
	id       string
	identity string
}

var global = zap.Must(zap.NewProduction(zap.AddCallerSkip(1)))

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error; unknown values mean info
	Format     string // json or console
	OutputPath string // stdout, stderr or a file path
}

// Init replaces the global logger.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	global = logger
	return nil
}

// InitNop discards all output. Used by tests.
func InitNop() {
	global = zap.NewNop()
}

// Sync flushes buffered entries.
func Sync() error {
	return global.Sync()
}

// WithContext returns the request logger stored in ctx, or the global one.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return global
}

// GetRequestID returns the request ID assigned by Middleware, or "".
func GetRequestID(ctx context.Context) string {
	if st, ok := ctx.Value(requestKey).(*requestState); ok {
		return st.id
	}
	return ""
}

// WithIdentity tags the request logger in ctx with the authenticated
// identity and records it for the access log line.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if st, ok := ctx.Value(requestKey).(*requestState); ok {
		st.identity = identity
	}
	return context.WithValue(ctx, loggerKey, WithContext(ctx).With(zap.String("identity", identity)))
}

func Debug(msg string, fields ...zap.Field) { global.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { global.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { global.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { global.Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { global.Fatal(msg, fields...) }

// statusRecorder captures what a handler sent for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// Flush lets streamed downloads push bytes through the wrapper.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// Middleware assigns each request an ID, installs a request logger and
// writes one access log line per request, including the identity if the
// request was authenticated.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		st := &requestState{id: r.Header.Get(RequestIDHeader)}
		if st.id == "" {
			st.id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, st.id)

		logger := global.With(zap.String("request_id", st.id))
		ctx := context.WithValue(r.Context(), requestKey, st)
		ctx = context.WithValue(ctx, loggerKey, logger)

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r.WithContext(ctx))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sr.status),
			zap.Int64("bytes", sr.bytes),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		}
		if st.identity != "" {
			fields = append(fields, zap.String("identity", st.identity))
		}
		switch {
		case sr.status >= http.StatusInternalServerError:
			logger.Error("request failed", fields...)
		case sr.status >= http.StatusBadRequest:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	})
}
