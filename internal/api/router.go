// Hearth - Personal Home Hub Node
// Copyright 2026 Hearth Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/hearthnode/hearth

package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthnode/hearth/internal/auth"
)

var requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hearth_http_requests_total",
	Help: "HTTP requests by method, route pattern and status.",
}, []string{"method", "route", "status"})

// Router assembles the chi mux: global middleware, public probes, the
// rate-limited auth endpoints and the bearer-protected API surface.
func (h *Handler) Router(authMW *auth.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(metricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httprate.Limit(
		h.cfg.Security.APIRateLimit,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	))

	r.Route("/api", func(r chi.Router) {
		// Public probes.
		r.Get("/health", h.HandleHealth)
		r.Get("/info", h.HandleInfo)
		r.Get("/status", h.HandleStatus)

		// Registration and login carry their own per-IP token bucket on
		// top of the general limit.
		r.Post("/auth/register", h.authLimit.Limit(h.HandleRegister))
		r.Post("/auth/login", h.authLimit.Limit(h.HandleLogin))

		// WebSocket authenticates via query parameter inside the handler.
		r.Get("/ws", h.HandleWebSocket)

		// Everything below requires a bearer token.
		r.Group(func(r chi.Router) {
			r.Use(wrap(authMW.Authenticate))

			r.Get("/members", h.HandleMembers)
			r.Delete("/members/{id}", h.HandleDeleteMember)
			r.Patch("/members/{id}/role", h.HandleUpdateMemberRole)

			r.Get("/spaces", h.HandleListSpaces)
			r.Post("/spaces", h.HandleCreateSpace)

			r.Get("/files", h.HandleListFiles)
			r.With(bodyLimit(h.cfg.Server.MaxBodyBytes)).Post("/files", h.HandleUploadFile)
			r.Get("/files/{name}", h.HandleDownloadFile)
			r.Delete("/files/{name}", h.HandleDeleteFile)
			r.Patch("/files/{name}", h.HandleUpdateFileVisibility)

			r.Get("/conversations", h.HandleListConversations)
			r.Post("/conversations", h.HandleCreateConversation)
			r.Patch("/conversations/{id}", h.HandleUpdateConversation)
			r.Get("/conversations/{id}/messages", h.HandleListMessages)
			r.Post("/conversations/{id}/messages", h.HandleSendMessage)

			r.Post("/node", h.HandleNodeInit)
			r.Patch("/node/prefs", h.HandleNodePrefs)
			r.Post("/node/relocate", h.HandleRelocate)

			r.Post("/tunnel/setup", h.HandleTunnelSetup)
			r.Post("/tunnel/quick", h.HandleTunnelQuickStart)
			r.Post("/tunnel/start", h.HandleTunnelStart)
			r.Post("/tunnel/stop", h.HandleTunnelStop)
			r.Get("/tunnel/status", h.HandleTunnelStatus)

			r.Post("/fleet/register", h.HandleFleetRegister)
			r.Post("/fleet/deregister", h.HandleFleetDeregister)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// wrap adapts an http.HandlerFunc middleware to chi's http.Handler
// middleware shape.
func wrap(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// pathValue bridges chi URL parameters for handlers.
func pathValue(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// bodyLimit caps the request body, guarding uploads.
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders sets the standard API hardening headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

// Hijack passes through to the wrapped writer so WebSocket upgrades
// still work behind the metrics middleware.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		requestCounter.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}
