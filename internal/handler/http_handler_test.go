package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-approvals/internal/client"
	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

type stack struct {
	approvals *service.ApprovalService
	overrides *service.OverrideService
	sweeper   *service.Sweeper
	policies  *policy.Store
}

func newStack() *stack {
	log := logger.Nop()
	policies := policy.NewStore(policy.DefaultSnapshot())
	audit := memory.NewAudit()
	notifier := client.NewNotificationPublisher(nil, "", log)
	users := memory.Users{
		"u-super": {ID: "u-super", Role: "SUPERINTENDENT", IsActive: true},
	}

	overrides := service.NewOverrideService(memory.NewOverrides(), users, audit, notifier, policies, log)
	approvals := service.NewApprovalService(memory.NewRequisitions(), overrides, audit, notifier, policies, nil, log)
	return &stack{
		approvals: approvals,
		overrides: overrides,
		sweeper:   service.NewSweeper(approvals, overrides, log),
		policies:  policies,
	}
}

var (
	crewP    = auth.Principal{UserID: "u-crew", Role: "CREW", VesselIDs: []string{"v-1"}}
	captainP = auth.Principal{UserID: "u-captain", Role: "CAPTAIN", VesselIDs: []string{"v-1"}}
	superP   = auth.Principal{UserID: "u-super", Role: "SUPERINTENDENT", VesselIDs: []string{"v-1"}}
	adminP   = auth.Principal{UserID: "u-admin", Role: "ADMIN"}
)

type httpClient struct {
	t      *testing.T
	server *httptest.Server
}

func newHTTPClient(t *testing.T, s *stack) *httpClient {
	t.Helper()
	h := NewHTTPHandler(s.approvals, s.overrides, s.policies, logger.Nop())
	srv := httptest.NewServer(h.Routes(5 * time.Second))
	t.Cleanup(srv.Close)
	return &httpClient{t: t, server: srv}
}

func (c *httpClient) do(method, path string, p *auth.Principal, body any) (*http.Response, map[string]any) {
	c.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.server.URL+path, rdr)
	require.NoError(c.t, err)
	if p != nil {
		req.Header.Set(auth.HeaderUserID, p.UserID)
		req.Header.Set(auth.HeaderUserRole, p.Role)
		req.Header.Set(auth.HeaderVesselIDs, strings.Join(p.VesselIDs, ","))
	}
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func (c *httpClient) createDraft(p auth.Principal, amount string) string {
	c.t.Helper()
	resp, out := c.do(http.MethodPost, "/api/v1/requisitions", &p, map[string]any{
		"vesselId": "v-1",
		"amount":   amount,
		"currency": "USD",
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, out)
	return out["id"].(string)
}

func TestHTTPRequisitionFlow(t *testing.T) {
	c := newHTTPClient(t, newStack())
	id := c.createDraft(crewP, "700")

	resp, out := c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/submit", &crewP, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	req := out["requisition"].(map[string]any)
	assert.Equal(t, string(repository.StateAwaitingApproval), req["state"])
	assert.Equal(t, "CAPTAIN", req["requiredRole"])
	assert.Empty(t, resp.Header.Get(service.PostApprovalHeader))

	resp, out = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/approve", &crewP, map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_AUTHORITY", out["code"])

	resp, out = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/approve", &captainP, map[string]any{"notes": "ok"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, string(repository.StateApproved), out["state"])

	resp, out = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/reject", &captainP, map[string]any{"reason": "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CONFLICTING_TRANSITION", out["code"])

	resp, out = c.do(http.MethodGet, "/api/v1/requisitions/"+id+"/history", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["entries"], 3)
}

func TestHTTPErrors(t *testing.T) {
	c := newHTTPClient(t, newStack())

	resp, out := c.do(http.MethodPost, "/api/v1/requisitions", nil, map[string]any{"vesselId": "v-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHENTICATED", out["code"])

	resp, out = c.do(http.MethodGet, "/api/v1/requisitions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", out["code"])

	req, err := http.NewRequest(http.MethodPost, c.server.URL+"/api/v1/requisitions", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set(auth.HeaderUserID, "u-crew")
	raw, err := c.server.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	id := c.createDraft(crewP, "900")
	_, _ = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/submit", &crewP, nil)
	resp, out = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/reject", &captainP, map[string]any{"reason": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", out["code"])
}

func TestHTTPEmergencyOverride(t *testing.T) {
	c := newHTTPClient(t, newStack())

	resp, out := c.do(http.MethodPost, "/api/v1/overrides", &captainP, map[string]any{
		"vesselId":         "v-1",
		"reason":           "Steering gear failure",
		"urgencyLevel":     "EMERGENCY",
		"criticalityLevel": "SAFETY_CRITICAL",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	assert.Equal(t, "true", resp.Header.Get(service.PostApprovalHeader))
	overrideID := out["id"].(string)

	resp, out = c.do(http.MethodPost, "/api/v1/overrides", &crewP, map[string]any{
		"vesselId":         "v-1",
		"reason":           "x",
		"urgencyLevel":     "EMERGENCY",
		"criticalityLevel": "SAFETY_CRITICAL",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ROLE_NOT_ELIGIBLE", out["code"])

	id := c.createDraft(captainP, "42000")
	resp, out = c.do(http.MethodPost, "/api/v1/requisitions/"+id+"/submit", &captainP, map[string]any{"overrideId": overrideID})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "true", resp.Header.Get(service.PostApprovalHeader))
	assert.Equal(t, string(repository.StateEmergencyBypassed), out["requisition"].(map[string]any)["state"])

	resp, out = c.do(http.MethodGet, "/api/v1/overrides", &captainP, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["overrides"], 1)

	resp, out = c.do(http.MethodPost, "/api/v1/overrides/"+overrideID+"/post-approve", &superP, map[string]any{"reason": "Reviewed"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.EqualValues(t, 1, out["closedRequisitions"])

	resp, _ = c.do(http.MethodPost, "/api/v1/overrides/"+overrideID+"/deactivate", &captainP, map[string]any{"reason": "done"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, out = c.do(http.MethodGet, "/api/v1/overrides/"+overrideID+"/validate", nil, nil)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "INACTIVE", out["code"])
}

func TestHTTPPolicyEndpoints(t *testing.T) {
	c := newHTTPClient(t, newStack())

	resp, out := c.do(http.MethodPost, "/api/v1/policy/evaluate", nil, map[string]any{"amount": "7200", "currency": "USD"})
	require.Equal(t, http.StatusOK, resp.StatusCode, out)
	assert.Equal(t, "REQUIRE_APPROVAL", out["outcome"])
	assert.Equal(t, "T3", out["thresholdId"])

	resp, out = c.do(http.MethodGet, "/api/v1/policy", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, out["thresholds"], 4)
	assert.Len(t, out["bypasses"], 3)

	resp, _ = c.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
