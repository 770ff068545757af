package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
)

func TestFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderUserID, "u-captain")
	h.Set(HeaderUserRole, "captain")
	h.Set(HeaderVesselIDs, "v-1, v-2,,")

	p, ok := FromHeaders(h)
	require.True(t, ok)
	assert.Equal(t, "CAPTAIN", p.Role)
	assert.Equal(t, []string{"v-1", "v-2"}, p.VesselIDs)
	assert.True(t, p.AssignedTo("v-2"))
	assert.False(t, p.AssignedTo("v-3"))

	_, ok = FromHeaders(http.Header{})
	assert.False(t, ok)
}

func TestFromMetadata(t *testing.T) {
	md := metadata.Pairs(
		"x-user-id", "u-super",
		"x-user-role", "SUPERINTENDENT",
		"x-permissions", "overrides:review",
	)
	p, ok := FromMetadata(md)
	require.True(t, ok)
	assert.Equal(t, "u-super", p.UserID)
	assert.True(t, p.HasPermission("overrides:review"))
	assert.Empty(t, p.VesselIDs)
}

func TestMiddlewareAndFromContext(t *testing.T) {
	var got Principal
	var gotErr error
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "u-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NoError(t, gotErr)
	assert.Equal(t, "u-1", got.UserID)

	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnauthenticated)
}
