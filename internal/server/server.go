package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/auth"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/scheduler"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Store defines the storage queries the server needs.
type Store interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (*storage.User, error)
	UserByEmail(ctx context.Context, email string) (*storage.User, error)
	UserByID(ctx context.Context, id int64) (*storage.User, error)

	ListCategories(ctx context.Context) ([]storage.Category, error)
	CreateCategory(ctx context.Context, name, description string) (*storage.Category, error)
	ListTargets(ctx context.Context) ([]storage.SiteTarget, error)
	CreateTarget(ctx context.Context, t storage.SiteTarget) (*storage.SiteTarget, error)
	UpdateTarget(ctx context.Context, id int64, p storage.TargetPatch) (*storage.SiteTarget, error)
	DeleteTarget(ctx context.Context, id int64) error

	ListApplications(ctx context.Context) ([]storage.Application, error)
	GetApplication(ctx context.Context, id int64) (*storage.Application, error)
	CreateApplication(ctx context.Context, a storage.Application) (*storage.Application, error)
	CreateEndpoint(ctx context.Context, e storage.Endpoint) (*storage.Endpoint, error)

	History(ctx context.Context, f storage.HistoryFilter) ([]storage.HistoryEntry, error)
	HistoryStats(ctx context.Context, f storage.HistoryFilter) (storage.HistoryStats, error)
}

// Prober runs the on-demand server-side check.
type Prober interface {
	Probe(ctx context.Context, t probe.Target) probe.Result
}

// StatusSource reports scheduler status.
type StatusSource interface {
	Status() scheduler.Status
}

// Options holds the optional parts of the server.
type Options struct {
	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string
	// Live serves /api/ws when set.
	Live http.HandlerFunc
	// Dashboard is mounted at / when set.
	Dashboard http.Handler
}

// Server holds the chi router and its dependencies.
type Server struct {
	store  Store
	prober Prober
	status StatusSource
	issuer *auth.Issuer
	opts   Options
	router chi.Router
	logger *zap.Logger
}

// New creates a new Server and registers all routes.
func New(store Store, prober Prober, status StatusSource, issuer *auth.Issuer, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:  store,
		prober: prober,
		status: status,
		issuer: issuer,
		opts:   opts,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/version", s.handleVersion)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Get("/categories", s.handleListCategories)
		r.Get("/targets", s.handleListTargets)
		r.Get("/apps", s.handleListApps)
		r.Get("/apps/{id}", s.handleGetApp)

		r.Post("/server-check", s.handleServerCheck)

		r.Get("/history", s.handleHistory)
		r.Get("/history/summary", s.handleSummary)
		r.Get("/history/stats", s.handleStats)

		if s.opts.Live != nil {
			r.Get("/ws", s.opts.Live)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.issuer.Middleware)
			r.Get("/auth/me", s.handleMe)
			r.Post("/categories", s.handleCreateCategory)
			r.Post("/targets", s.handleCreateTarget)
			r.Patch("/targets/{id}", s.handleUpdateTarget)
			r.Delete("/targets/{id}", s.handleDeleteTarget)
			r.Post("/apps", s.handleCreateApp)
			r.Post("/apps/{id}/endpoints", s.handleCreateEndpoint)
		})
	})

	if s.opts.Dashboard != nil {
		r.Handle("/*", s.opts.Dashboard)
	}
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// writeStoreError maps storage sentinels to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, storage.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "unknown reference")
	default:
		s.logger.Error(op, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type validator interface {
	Validate() error
}

// decode reads a JSON body into v and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func decode(w http.ResponseWriter, r *http.Request, v validator) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := v.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// --- Middleware ---

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.opts.AllowedOrigins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
