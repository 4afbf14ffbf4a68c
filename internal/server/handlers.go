package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hazz-dev/reachprobe/internal/auth"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
	"github.com/hazz-dev/reachprobe/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}

// --- Auth ---

type authResponse struct {
	Token string        `json:"token"`
	User  *storage.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hashing password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, req.Name, hash)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, "an account already exists for this email")
		return
	}
	if err != nil {
		s.writeStoreError(w, "CreateUser", err)
		return
	}
	s.writeSession(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := s.store.UserByEmail(r.Context(), req.Email)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.writeStoreError(w, "UserByEmail", err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.writeSession(w, http.StatusOK, user)
}

func (s *Server) writeSession(w http.ResponseWriter, status int, user *storage.User) {
	token, err := s.issuer.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		s.logger.Error("issuing token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	user, err := s.store.UserByID(r.Context(), sess.UserID)
	if err != nil {
		s.writeStoreError(w, "UserByID", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*storage.User{"user": user})
}

// --- Categories and targets ---

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.ListCategories(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListCategories", err)
		return
	}
	if cats == nil {
		cats = []storage.Category{}
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decode(w, r, &req) {
		return
	}
	cat, err := s.store.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		s.writeStoreError(w, "CreateCategory", err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (s *Server) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListTargets", err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	t := storage.SiteTarget{
		Name:           req.Name,
		URL:            req.URL,
		CategoryID:     req.CategoryID,
		ProtectionType: req.ProtectionType,
		Notes:          req.Notes,
		Tags:           req.Tags,
	}
	if sess, ok := auth.SessionFrom(r.Context()); ok {
		t.CreatedByID = &sess.UserID
	}
	created, err := s.store.CreateTarget(r.Context(), t)
	if errors.Is(err, storage.ErrInvalidReference) {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	if err != nil {
		s.writeStoreError(w, "CreateTarget", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req targetPatchRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := s.store.UpdateTarget(r.Context(), id, req.patch())
	if err != nil {
		s.writeStoreError(w, "UpdateTarget", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteTarget(r.Context(), id); err != nil {
		s.writeStoreError(w, "DeleteTarget", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Applications ---

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApplications(r.Context())
	if err != nil {
		s.writeStoreError(w, "ListApplications", err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	app, err := s.store.GetApplication(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetApplication", err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req appRequest
	if !decode(w, r, &req) {
		return
	}
	a := storage.Application{Name: req.Name, Description: req.Description, Category: req.Category}
	if sess, ok := auth.SessionFrom(r.Context()); ok {
		a.CreatedByID = &sess.UserID
	}
	created, err := s.store.CreateApplication(r.Context(), a)
	if err != nil {
		s.writeStoreError(w, "CreateApplication", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	app, err := s.store.GetApplication(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "GetApplication", err)
		return
	}
	if app.IsDefault {
		writeError(w, http.StatusForbidden, "default applications cannot be edited")
		return
	}

	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}
	ep, err := s.store.CreateEndpoint(r.Context(), storage.Endpoint{
		ApplicationID: id,
		Label:         req.Label,
		URL:           req.URL,
		Kind:          req.Kind,
		Method:        req.Method,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeStoreError(w, "CreateEndpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, ep)
}

// --- Checks and history ---

// checkResponse is the bare (unenveloped) server-check body.
type checkResponse struct {
	Status     probe.Status `json:"status"`
	HTTPStatus int          `json:"httpStatus,omitempty"`
	LatencyMs  float64      `json:"latencyMs"`
	Error      string       `json:"error,omitempty"`
	URL        string       `json:"url"`
}

func (s *Server) handleServerCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decode(w, r, &req) {
		return
	}
	res := s.prober.Probe(r.Context(), req.target())
	s.logger.Debug("server_check",
		zap.String("url", res.URL),
		zap.String("status", string(res.Status)),
		zap.Float64("latency_ms", res.LatencyMs),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(checkResponse{
		Status:     res.Status,
		HTTPStatus: res.HTTPStatus,
		LatencyMs:  res.LatencyMs,
		Error:      res.Error,
		URL:        res.URL,
	})
}

func historyFilter(w http.ResponseWriter, r *http.Request) (storage.HistoryFilter, bool) {
	var f storage.HistoryFilter
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"applicationId", &f.ApplicationID},
		{"endpointId", &f.EndpointID},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid "+p.name+" parameter")
			return f, false
		}
		*p.dst = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return f, false
		}
		f.Limit = n
	}
	return f.Clamp(), true
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, ok := historyFilter(w, r)
	if !ok {
		return
	}
	entries, err := s.store.History(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, "History", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	f, ok := historyFilter(w, r)
	if !ok {
		return
	}
	stats, err := s.store.HistoryStats(r.Context(), f)
	if err != nil {
		s.writeStoreError(w, "HistoryStats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}
