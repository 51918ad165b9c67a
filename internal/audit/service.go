// Package audit keeps a trail of operator actions that change or destroy
// data: bill deletion and voiding, counter resets, settings edits and queue
// replays.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// ActorAnonymous marks requests without a register token.
const ActorAnonymous = "anonymous"

// Entry is one audited request.
type Entry struct {
	ID         int64           `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resourceId,omitempty"`
	Method     string          `json:"method"`
	Route      string          `json:"route"`
	Status     int             `json:"status"`
	IP         string          `json:"ip,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Filter narrows List results.
type Filter struct {
	Resource string
	Actor    string
	Limit    int
	Offset   int
}

// Store persists entries.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, int, error)
}

// Service records entries when enabled. A SamplingRate between 0 and 1
// keeps that fraction of entries; anything else keeps all of them.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Record fills request-derived fields of e and stores it.
func (s *Service) Record(ctx context.Context, req *http.Request, e Entry) error {
	if s == nil || !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 && rand.Float64() > s.SamplingRate {
		return nil
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	route := ""
	if rc := chi.RouteContext(req.Context()); rc != nil {
		route = rc.RoutePattern()
	}
	if route == "" {
		route = req.URL.Path
	}
	e.Method = req.Method
	e.Route = route
	e.Action = buildAction(e.Action, req.Method, route)
	e.Resource = buildResource(e.Resource, route)
	if e.Actor == "" {
		e.Actor = ActorAnonymous
		if id, ok := common.RegisterID(req.Context()); ok && id != "" {
			e.Actor = id
		}
	}
	if e.Status == 0 {
		e.Status = http.StatusOK
	}
	e.IP = common.ClientIP(req)
	e.RequestID = middleware.GetReqID(req.Context())
	if len(e.Metadata) == 0 && strings.TrimSpace(req.URL.RawQuery) != "" {
		e.Metadata, _ = json.Marshal(map[string]string{"query": req.URL.RawQuery})
	}
	e.CreatedAt = s.now().UTC()
	return s.Store.Insert(ctx, e)
}

func buildAction(action, method, route string) string {
	if trimmed := strings.TrimSpace(action); trimmed != "" {
		return trimmed
	}
	if route == "" {
		route = "/"
	}
	return strings.ToUpper(method) + " " + route
}

// buildResource derives "bills.{id}.status" style names from the route
// when no resource is given.
func buildResource(resource, route string) string {
	if trimmed := strings.TrimSpace(resource); trimmed != "" {
		return trimmed
	}
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(route, "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		segments = segments[2:]
	}
	return strings.Join(segments, ".")
}
