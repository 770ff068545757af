// Package auth carries the authenticated principal supplied by the upstream
// authenticator. This service never authenticates users itself; it trusts
// the gateway-injected identity headers (HTTP) or metadata (gRPC).
package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

// Header names set by the authenticating gateway. gRPC metadata uses the
// lower-cased form.
const (
	HeaderUserID      = "X-User-ID"
	HeaderUserRole    = "X-User-Role"
	HeaderVesselIDs   = "X-Vessel-IDs"
	HeaderPermissions = "X-Permissions"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID      string
	Role        string
	VesselIDs   []string
	Permissions []string
}

// AssignedTo reports whether the principal is assigned to the vessel.
func (p Principal) AssignedTo(vesselID string) bool {
	return slices.Contains(p.VesselIDs, vesselID)
}

// HasPermission reports whether the principal carries a permission claim.
func (p Principal) HasPermission(permission string) bool {
	return slices.Contains(p.Permissions, permission)
}

type principalKey struct{}

// WithPrincipal stores p on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal or an unauthenticated error.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, errors.New(errors.ErrCodeUnauthenticated, "no authenticated principal")
	}
	return p, nil
}

// FromHeaders builds a principal from gateway headers.
func FromHeaders(h http.Header) (Principal, bool) {
	userID := strings.TrimSpace(h.Get(HeaderUserID))
	if userID == "" {
		return Principal{}, false
	}
	return Principal{
		UserID:      userID,
		Role:        strings.ToUpper(strings.TrimSpace(h.Get(HeaderUserRole))),
		VesselIDs:   splitList(h.Get(HeaderVesselIDs)),
		Permissions: splitList(h.Get(HeaderPermissions)),
	}, true
}

// FromMetadata builds a principal from incoming gRPC metadata.
func FromMetadata(md metadata.MD) (Principal, bool) {
	first := func(key string) string {
		if v := md.Get(key); len(v) > 0 {
			return v[0]
		}
		return ""
	}
	userID := strings.TrimSpace(first(strings.ToLower(HeaderUserID)))
	if userID == "" {
		return Principal{}, false
	}
	return Principal{
		UserID:      userID,
		Role:        strings.ToUpper(strings.TrimSpace(first(strings.ToLower(HeaderUserRole)))),
		VesselIDs:   splitList(first(strings.ToLower(HeaderVesselIDs))),
		Permissions: splitList(first(strings.ToLower(HeaderPermissions))),
	}, true
}

// Middleware attaches the gateway principal to the request context. Requests
// without one pass through; handlers decide whether identity is required.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := FromHeaders(r.Header); ok {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
