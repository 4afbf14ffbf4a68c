package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazz-dev/reachprobe/internal/probe"
)

// Protection types a site target can exercise.
const (
	ProtectionProxy  = "PROXY"
	ProtectionDLP    = "DLP"
	ProtectionThreat = "THREAT"
	ProtectionCustom = "CUSTOM"
)

// Application categories.
const (
	AppCloudStorage = "CLOUD_STORAGE"
	AppFileTransfer = "FILE_TRANSFER"
	AppSocialMedia  = "SOCIAL_MEDIA"
	AppSaaS         = "SAAS"
	AppOther        = "OTHER"
)

// Endpoint kinds.
const (
	EndpointWeb  = "WEB"
	EndpointAPI  = "API"
	EndpointFile = "FILE"
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Category groups site targets by the protection layer they test.
type Category struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"createdAt"`
	Targets     []SiteTarget `json:"targets"`
}

// SiteTarget is a URL users keep around to test a security control.
type SiteTarget struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	CategoryID     int64     `json:"categoryId"`
	Category       *Category `json:"category,omitempty"`
	ProtectionType string    `json:"protectionType"`
	Notes          string    `json:"notes"`
	Tags           string    `json:"tags"`
	CreatedByID    *int64    `json:"createdById"`
	CreatedAt      time.Time `json:"createdAt"`
}

// TargetPatch is a partial update of a SiteTarget. Nil fields are left alone.
type TargetPatch struct {
	Name           *string
	URL            *string
	CategoryID     *int64
	ProtectionType *string
	Notes          *string
	Tags           *string
}

// Application is a SaaS product whose endpoints are probed.
type Application struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	IsDefault   bool       `json:"isDefault"`
	CreatedByID *int64     `json:"createdById"`
	CreatedAt   time.Time  `json:"createdAt"`
	Endpoints   []Endpoint `json:"endpoints"`
}

// Endpoint is one URL of an application.
type Endpoint struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"applicationId"`
	Label         string    `json:"label"`
	URL           string    `json:"url"`
	Kind          string    `json:"kind"`
	Method        string    `json:"method"`
	Notes         string    `json:"notes"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Target converts the endpoint into a probe target.
func (e Endpoint) Target() probe.Target {
	return probe.Target{URL: e.URL, Method: e.Method}
}

// ProbeRecord is one scheduler observation about to be appended to history.
type ProbeRecord struct {
	RunID         string
	ApplicationID int64
	EndpointID    int64
	Result        probe.Result
}

// HistoryEntry is a stored probe observation.
type HistoryEntry struct {
	ID              int64     `json:"id"`
	RunID           string    `json:"runId"`
	ApplicationID   int64     `json:"applicationId"`
	ApplicationName string    `json:"applicationName"`
	EndpointID      int64     `json:"endpointId"`
	EndpointLabel   string    `json:"endpointLabel"`
	EndpointURL     string    `json:"endpointUrl"`
	Status          string    `json:"status"`
	HTTPStatus      *int      `json:"httpStatus"`
	LatencyMs       float64   `json:"latencyMs"`
	Error           string    `json:"error,omitempty"`
	Failure         string    `json:"failure,omitempty"`
	FinalURL        string    `json:"finalUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// HistoryFilter narrows a history query. Zero IDs match everything.
type HistoryFilter struct {
	ApplicationID int64
	EndpointID    int64
	Limit         int
}

// History query limits.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Clamp applies the default and maximum limit.
func (f HistoryFilter) Clamp() HistoryFilter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		f.Limit = MaxHistoryLimit
	}
	return f
}

// HistoryStats aggregates a history window.
type HistoryStats struct {
	Total        int     `json:"total"`
	Reachable    int     `json:"reachable"`
	Blocked      int     `json:"blocked"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
}

// ParseProtectionType validates and canonicalises a protection type.
// Empty input yields PROXY.
func ParseProtectionType(s string) (string, error) {
	return parseEnum(s, ProtectionProxy, "protection type",
		ProtectionProxy, ProtectionDLP, ProtectionThreat, ProtectionCustom)
}

// ParseAppCategory validates and canonicalises an application category.
// Empty input yields OTHER.
func ParseAppCategory(s string) (string, error) {
	return parseEnum(s, AppOther, "application category",
		AppCloudStorage, AppFileTransfer, AppSocialMedia, AppSaaS, AppOther)
}

// ParseEndpointKind validates and canonicalises an endpoint kind.
// Empty input yields WEB.
func ParseEndpointKind(s string) (string, error) {
	return parseEnum(s, EndpointWeb, "endpoint kind", EndpointWeb, EndpointAPI, EndpointFile)
}

func parseEnum(s, def, what string, allowed ...string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown %s %q (want one of %s)", what, s, strings.Join(allowed, ", "))
}
