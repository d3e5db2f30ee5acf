package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingMiddleware logs each request with its duration
func LoggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			logger.Debug("→", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
			logger.Info("←", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
		})
	}
}

// AuthMiddleware requires "Authorization: Bearer <token>" on every path except
// the health check. An empty token disables auth (development mode).
func AuthMiddleware(token string, logger *log.Logger) func(http.Handler) http.Handler {
	if token == "" {
		logger.Warn("⚠️ REST_API_AUTH_TOKEN not set - auth disabled")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if token == "" || r.URL.Path == "/api/v1/health" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LoggingInterceptor is LoggingMiddleware for unary gRPC calls
func LoggingInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("←", "method", info.FullMethod, "code", status.Code(err), "elapsed", time.Since(start))
			return resp, err
		}
		logger.Info("←", "method", info.FullMethod, "elapsed", time.Since(start))
		return resp, nil
	}
}
