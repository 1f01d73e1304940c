/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/xid"

	"github.com/acronis/go-keyprobe/log"
)

// HeaderRequestID is the header carrying the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// RecoveryDefaultStackSize defines the default size of stack part which will be logged.
const RecoveryDefaultStackSize = 8192

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyLogger
)

// NewContextWithRequestID creates a new context with request id.
func NewContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// GetRequestIDFromContext extracts request id from the context.
func GetRequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ctxKeyRequestID).(string)
	return value
}

// NewContextWithLogger creates a new context with logger.
func NewContextWithLogger(ctx context.Context, logger log.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLoggerFromContext extracts logger from the context.
func GetLoggerFromContext(ctx context.Context) log.FieldLogger {
	value, _ := ctx.Value(ctxKeyLogger).(log.FieldLogger)
	return value
}

// RequestID is a middleware that reads value of X-Request-ID request's HTTP header and generates new one (xid) if it's empty.
// The id is put into the request's context and returned in the response header.
func RequestID() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = xid.New().String()
			}
			rw.Header().Set(HeaderRequestID, requestID)
			next.ServeHTTP(rw, r.WithContext(NewContextWithRequestID(r.Context(), requestID)))
		})
	}
}

// LoggingOpts represents an options for Logging middleware.
type LoggingOpts struct {
	RequestStart         bool
	ExcludedEndpoints    []string
	SlowRequestThreshold time.Duration
}

// Logging is a middleware that logs info about HTTP request and response.
// It puts the logger (with the request id in fields) into the request's context.
func Logging(logger log.FieldLogger, opts LoggingOpts) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(log.String("request_id", GetRequestIDFromContext(r.Context())))
			noLog := isLoggingDisabled(r.URL.Path, opts.ExcludedEndpoints)
			if opts.RequestStart && !noLog {
				reqLogger.Info("request started", log.String("method", r.Method), log.String("uri", r.RequestURI))
			}

			wrw := chimw.NewWrapResponseWriter(rw, r.ProtoMajor)
			next.ServeHTTP(wrw, r.WithContext(NewContextWithLogger(r.Context(), reqLogger)))

			if noLog && wrw.Status() < http.StatusBadRequest {
				return
			}
			duration := time.Since(start)
			fields := []log.Field{
				log.String("method", r.Method),
				log.String("uri", r.RequestURI),
				log.String("remote_addr", r.RemoteAddr),
				log.Int("status", wrw.Status()),
				log.Int("bytes_sent", wrw.BytesWritten()),
				log.DurationMs(duration),
			}
			if opts.SlowRequestThreshold > 0 && duration >= opts.SlowRequestThreshold {
				reqLogger.Warn(fmt.Sprintf("slow response completed in %.3fs", duration.Seconds()), fields...)
				return
			}
			reqLogger.Info(fmt.Sprintf("response completed in %.3fs", duration.Seconds()), fields...)
		})
	}
}

func isLoggingDisabled(urlPath string, noLogEndpoints []string) bool {
	for _, endpoint := range noLogEndpoints {
		if urlPath == endpoint {
			return true
		}
	}
	return false
}

// Recovery is a middleware that recovers from panics, logs the panic value and a stacktrace
// and responds with 500 HTTP status code.
func Recovery(stackSize int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				logger := GetLoggerFromContext(r.Context())
				if p == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					if logger != nil {
						logger.Warn("request has been aborted", log.Error(http.ErrAbortHandler))
					}
					panic(p)
				}
				if logger != nil {
					var fields []log.Field
					if stackSize != 0 {
						stack := make([]byte, stackSize)
						stack = stack[:runtime.Stack(stack, false)]
						fields = append(fields, log.Bytes("stack", stack))
					}
					logger.Error(fmt.Sprintf("Panic: %+v", p), fields...)
				}
				RespondError(rw, http.StatusInternalServerError, ErrCodeInternal, "Internal error.", logger)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
