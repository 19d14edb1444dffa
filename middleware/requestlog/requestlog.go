// Package requestlog tags requests with an id and writes one access log line
// per request.
package requestlog

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const RequestIdHeader = "x-request-id"

type ctxKey struct{}

// RequestId returns the id attached by Middleware, or "".
func RequestId(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type writerWrapper struct {
	http.ResponseWriter

	statusCode int
}

func (w *writerWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	upstream, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("writerWrapper: upstream writer doesn't implement Hijack")
	}
	return upstream.Hijack()
}

func (w *writerWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *writerWrapper) StatusCode() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *writerWrapper) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware reuses the client's x-request-id when present, otherwise mints a
// uuid, echoes it in the response and logs the request at debug level once
// the handler returns.
func Middleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			began := time.Now()

			requestId := strings.TrimSpace(r.Header.Get(RequestIdHeader))
			if requestId == "" {
				requestId = uuid.NewString()
			}
			w.Header().Set(RequestIdHeader, requestId)
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, requestId))

			// path can be rewritten downstream
			originalPath := r.URL.Path
			writer := &writerWrapper{ResponseWriter: w}
			next.ServeHTTP(writer, r)

			logger.Debug("log request",
				zap.String("requestId", requestId),
				zap.String("httpMethod", r.Method),
				zap.String("path", originalPath),
				zap.String("remoteAddr", r.RemoteAddr),
				zap.String("xForwardedFor", r.Header.Get("X-Forwarded-For")),
				zap.Int("statusCode", writer.StatusCode()),
				zap.Duration("elapsed", time.Since(began)),
			)
		})
	}
}
