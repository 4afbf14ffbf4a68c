package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazz-dev/reachprobe/internal/auth"
	"github.com/hazz-dev/reachprobe/internal/probe"
	"github.com/hazz-dev/reachprobe/internal/storage"
)

// Every request body decodes into one of these types and is validated
// before any handler logic runs. Validate also canonicalises the fields.

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (r *registerRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.Name = strings.TrimSpace(r.Name)
	if r.Email == "" || len(r.Password) < auth.MinPasswordLength {
		return fmt.Errorf("email and password (>= %d characters) are required", auth.MinPasswordLength)
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *loginRequest) Validate() error {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	if r.Email == "" || r.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r *categoryRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if r.Name == "" {
		return errors.New("category name is required")
	}
	return nil
}

type targetRequest struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	CategoryID     int64  `json:"categoryId"`
	ProtectionType string `json:"protectionType"`
	Notes          string `json:"notes"`
	Tags           string `json:"tags"`
}

func (r *targetRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" || strings.TrimSpace(r.URL) == "" || r.CategoryID <= 0 {
		return errors.New("name, url and categoryId are required")
	}
	u, err := probe.Normalize(r.URL)
	if err != nil {
		return errors.New("invalid url")
	}
	r.URL = u
	pt, err := storage.ParseProtectionType(r.ProtectionType)
	if err != nil {
		return err
	}
	r.ProtectionType = pt
	return nil
}

// targetPatchRequest uses pointers so absent fields are left untouched.
type targetPatchRequest struct {
	Name           *string `json:"name"`
	URL            *string `json:"url"`
	CategoryID     *int64  `json:"categoryId"`
	ProtectionType *string `json:"protectionType"`
	Notes          *string `json:"notes"`
	Tags           *string `json:"tags"`
}

func (r *targetPatchRequest) Validate() error {
	if r.Name != nil {
		n := strings.TrimSpace(*r.Name)
		if n == "" {
			return errors.New("name must not be empty")
		}
		r.Name = &n
	}
	if r.URL != nil {
		u, err := probe.Normalize(*r.URL)
		if err != nil {
			return errors.New("invalid url")
		}
		r.URL = &u
	}
	if r.CategoryID != nil && *r.CategoryID <= 0 {
		return errors.New("invalid categoryId")
	}
	if r.ProtectionType != nil {
		pt, err := storage.ParseProtectionType(*r.ProtectionType)
		if err != nil {
			return err
		}
		r.ProtectionType = &pt
	}
	return nil
}

func (r *targetPatchRequest) patch() storage.TargetPatch {
	return storage.TargetPatch{
		Name:           r.Name,
		URL:            r.URL,
		CategoryID:     r.CategoryID,
		ProtectionType: r.ProtectionType,
		Notes:          r.Notes,
		Tags:           r.Tags,
	}
}

type appRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (r *appRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	if r.Name == "" {
		return errors.New("application name is required")
	}
	c, err := storage.ParseAppCategory(r.Category)
	if err != nil {
		return err
	}
	r.Category = c
	return nil
}

type endpointRequest struct {
	Label  string `json:"label"`
	URL    string `json:"url"`
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Notes  string `json:"notes"`
}

func (r *endpointRequest) Validate() error {
	r.Label = strings.TrimSpace(r.Label)
	if r.Label == "" || strings.TrimSpace(r.URL) == "" {
		return errors.New("label and url are required")
	}
	u, err := probe.Normalize(r.URL)
	if err != nil {
		return errors.New("invalid url")
	}
	r.URL = u
	k, err := storage.ParseEndpointKind(r.Kind)
	if err != nil {
		return err
	}
	r.Kind = k
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method != "" && !allowedMethods[r.Method] {
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	return nil
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

type checkRequest struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	Payload     string `json:"payload"`
	ContentType string `json:"contentType"`
}

func (r *checkRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("url is required")
	}
	u, err := probe.Normalize(r.URL)
	if err != nil {
		return errors.New("invalid url")
	}
	r.URL = u
	r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
	if r.Method == "" {
		r.Method = http.MethodGet
	}
	return nil
}

func (r *checkRequest) target() probe.Target {
	return probe.Target{URL: r.URL, Method: r.Method, Payload: r.Payload, ContentType: r.ContentType}
}
