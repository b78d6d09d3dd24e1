// Package admin serves the operational HTTP endpoints next to the gRPC API.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const healthTimeout = 3 * time.Second

// Checker checks one dependency. A nil error means healthy.
type Checker func(ctx context.Context) error

type Check struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks"`
}

func NewRouter(logger *logrus.Logger, checks map[string]Checker) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", health(logger, checks))
	return r
}

func health(logger *logrus.Logger, checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := HealthResponse{Status: "healthy", Checks: make(map[string]Check, len(checks))}
		for _, name := range names {
			start := time.Now()
			if err := checks[name](ctx); err != nil {
				logger.WithError(err).WithField("check", name).Warn("Health check failed")
				resp.Checks[name] = Check{Status: "fail", Message: err.Error()}
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
		}

		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": chimw.GetReqID(r.Context()),
			}).Debug("Admin request")
		})
	}
}
