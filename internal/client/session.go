package client

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/hazz-dev/reachprobe/internal/storage"
)

// Session is an authenticated identity. It is safe for concurrent use.
type Session struct {
	c    *Client
	mu   sync.RWMutex
	tok  string
	user storage.User
}

type authResponse struct {
	Token string       `json:"token"`
	User  storage.User `json:"user"`
}

// Register creates an account and returns its session.
func (c *Client) Register(ctx context.Context, email, password, name string) (*Session, error) {
	body := map[string]string{"email": email, "password": password, "name": name}
	return c.authenticate(ctx, "/api/auth/register", body)
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/api/auth/login", body)
}

// Resume wraps a token obtained earlier.
func (c *Client) Resume(token string) *Session {
	return &Session{c: c, tok: token}
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*Session, error) {
	var resp authResponse
	if err := c.call(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	return &Session{c: c, tok: resp.Token, user: resp.User}, nil
}

// Token returns the bearer token, or "" after Logout.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tok
}

// User returns the user the session was issued for. Resumed sessions only
// know it after Me.
func (s *Session) User() storage.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Logout forgets the token. Tokens are stateless JWTs, so the server is
// not contacted.
func (s *Session) Logout() {
	s.mu.Lock()
	s.tok = ""
	s.user = storage.User{}
	s.mu.Unlock()
}

func (s *Session) call(ctx context.Context, method, path string, body, out any) error {
	tok := s.Token()
	if tok == "" {
		return ErrLoggedOut
	}
	return s.c.call(ctx, method, path, tok, body, out)
}

// Me refreshes and returns the session's user.
func (s *Session) Me(ctx context.Context) (*storage.User, error) {
	var resp struct {
		User storage.User `json:"user"`
	}
	if err := s.call(ctx, http.MethodGet, "/api/auth/me", nil, &resp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.user = resp.User
	s.mu.Unlock()
	return &resp.User, nil
}

// CreateCategory adds a category.
func (s *Session) CreateCategory(ctx context.Context, name, description string) (*storage.Category, error) {
	var cat storage.Category
	body := map[string]string{"name": name, "description": description}
	if err := s.call(ctx, http.MethodPost, "/api/categories", body, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// TargetInput describes a site target to create.
type TargetInput struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	CategoryID     int64  `json:"categoryId"`
	ProtectionType string `json:"protectionType,omitempty"`
	Notes          string `json:"notes,omitempty"`
	Tags           string `json:"tags,omitempty"`
}

// CreateTarget adds a site target.
func (s *Session) CreateTarget(ctx context.Context, in TargetInput) (*storage.SiteTarget, error) {
	var t storage.SiteTarget
	if err := s.call(ctx, http.MethodPost, "/api/targets", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTarget removes a site target.
func (s *Session) DeleteTarget(ctx context.Context, id int64) error {
	return s.call(ctx, http.MethodDelete, "/api/targets/"+strconv.FormatInt(id, 10), nil, nil)
}

// CreateApplication adds a custom application.
func (s *Session) CreateApplication(ctx context.Context, name, description, category string) (*storage.Application, error) {
	var a storage.Application
	body := map[string]string{"name": name, "description": description, "category": category}
	if err := s.call(ctx, http.MethodPost, "/api/apps", body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// EndpointInput describes an endpoint to add to a custom application.
type EndpointInput struct {
	Label  string `json:"label"`
	URL    string `json:"url"`
	Kind   string `json:"kind,omitempty"`
	Method string `json:"method,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// CreateEndpoint adds an endpoint to application appID.
func (s *Session) CreateEndpoint(ctx context.Context, appID int64, in EndpointInput) (*storage.Endpoint, error) {
	var e storage.Endpoint
	path := "/api/apps/" + strconv.FormatInt(appID, 10) + "/endpoints"
	if err := s.call(ctx, http.MethodPost, path, in, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
