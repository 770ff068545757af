package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/policy"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	overrides *service.OverrideService
	policies  *policy.Store
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, overrides *service.OverrideService, policies *policy.Store, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		overrides: overrides,
		policies:  policies,
		log:       log,
	}
}

// Routes builds the router with request logging, recovery and principal
// extraction applied.
func (h *HTTPHandler) Routes(requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(h.log.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("HTTP request")
	}))
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}
	r.Use(auth.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/requisitions", func(r chi.Router) {
			r.Post("/", h.CreateRequisition)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetRequisition)
				r.Get("/history", h.GetHistory)
				r.Post("/submit", h.SubmitRequisition)
				r.Post("/approve", h.ApproveRequisition)
				r.Post("/reject", h.RejectRequisition)
				r.Post("/escalate", h.EscalateRequisition)
			})
		})
		r.Route("/overrides", func(r chi.Router) {
			r.Post("/", h.GrantOverride)
			r.Get("/", h.ListActiveOverrides)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetOverride)
				r.Get("/validate", h.ValidateOverride)
				r.Post("/post-approve", h.PostApproveOverride)
				r.Post("/deactivate", h.DeactivateOverride)
			})
		})
		r.Get("/policy", h.GetPolicy)
		r.Post("/policy/evaluate", h.EvaluatePolicy)
	})

	return r
}

// ── Requisitions ──────────────────────────────────────────────────────────────

type createRequisitionBody struct {
	VesselID         string          `json:"vesselId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	UrgencyLevel     string          `json:"urgencyLevel"`
	CriticalityLevel string          `json:"criticalityLevel"`
	Department       string          `json:"department"`
	Category         string          `json:"category"`
	Tags             []string        `json:"tags"`
}

// CreateRequisition stores a draft requisition for the caller.
func (h *HTTPHandler) CreateRequisition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body createRequisitionBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.approvals.CreateDraft(r.Context(), p, service.CreateRequest{
		VesselID:         body.VesselID,
		Amount:           body.Amount,
		Currency:         body.Currency,
		UrgencyLevel:     body.UrgencyLevel,
		CriticalityLevel: body.CriticalityLevel,
		Department:       body.Department,
		Category:         body.Category,
		Tags:             body.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequisitionDTO(req))
}

// GetRequisition returns one requisition.
func (h *HTTPHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	req, err := h.approvals.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// GetHistory returns the requisition's audit trail.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.approvals.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": toTransitionDTOs(entries)})
}

// SubmitRequisition routes a draft, optionally under an emergency override.
func (h *HTTPHandler) SubmitRequisition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body struct {
		OverrideID string `json:"overrideId"`
	}
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}

	res, err := h.approvals.Submit(r.Context(), p, chi.URLParam(r, "id"), body.OverrideID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.RequiresPostApproval() {
		w.Header().Set(service.PostApprovalHeader, "true")
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Requisition:          toRequisitionDTO(res.Requisition),
		Decision:             res.Decision,
		RequiresPostApproval: res.RequiresPostApproval(),
	})
}

// ApproveRequisition records an approval.
func (h *HTTPHandler) ApproveRequisition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body struct {
		CostCenter string `json:"costCenter"`
		Notes      string `json:"notes"`
	}
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}

	req, err := h.approvals.Approve(r.Context(), p, chi.URLParam(r, "id"), service.ApproveRequest{
		CostCenter: body.CostCenter,
		Notes:      body.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// RejectRequisition records a rejection.
func (h *HTTPHandler) RejectRequisition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.approvals.Reject(r.Context(), p, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// EscalateRequisition hands a requisition to the next approver level.
func (h *HTTPHandler) EscalateRequisition(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.approvals.Escalate(r.Context(), p, chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequisitionDTO(req))
}

// ── Emergency overrides ───────────────────────────────────────────────────────

// GrantOverride issues an emergency override to the caller. The response
// carries PostApprovalHeader when shore-side review will be needed.
func (h *HTTPHandler) GrantOverride(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body struct {
		VesselID         string `json:"vesselId"`
		Reason           string `json:"reason"`
		UrgencyLevel     string `json:"urgencyLevel"`
		CriticalityLevel string `json:"criticalityLevel"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	o, err := h.overrides.Grant(r.Context(), p, service.GrantRequest{
		VesselID:         body.VesselID,
		Reason:           body.Reason,
		UrgencyLevel:     body.UrgencyLevel,
		CriticalityLevel: body.CriticalityLevel,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set(service.PostApprovalHeader, strconv.FormatBool(o.RequiresPostApproval))
	writeJSON(w, http.StatusCreated, toOverrideDTO(o))
}

// ListActiveOverrides returns the caller's live overrides.
func (h *HTTPHandler) ListActiveOverrides(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	list, err := h.overrides.ListActive(r.Context(), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]OverrideDTO, 0, len(list))
	for _, o := range list {
		out = append(out, toOverrideDTO(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": out})
}

// GetOverride returns one override regardless of state.
func (h *HTTPHandler) GetOverride(w http.ResponseWriter, r *http.Request) {
	o, err := h.overrides.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(o))
}

// ValidateOverride checks an override is usable right now.
func (h *HTTPHandler) ValidateOverride(w http.ResponseWriter, r *http.Request) {
	o, err := h.overrides.Validate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverrideDTO(o))
}

// PostApproveOverride records the shore-side review and closes every
// requisition bypassed under the override.
func (h *HTTPHandler) PostApproveOverride(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !h.decode(w, r, &body) {
		return
	}

	o, closed, err := h.approvals.CompleteEmergencyReview(r.Context(), chi.URLParam(r, "id"), p.UserID, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"override":            toOverrideDTO(o),
		"closedRequisitions": closed,
	})
}

// DeactivateOverride ends an override early.
func (h *HTTPHandler) DeactivateOverride(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}

	if err := h.overrides.Deactivate(r.Context(), chi.URLParam(r, "id"), p.UserID, body.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Policy ────────────────────────────────────────────────────────────────────

// GetPolicy summarises the snapshot in effect.
func (h *HTTPHandler) GetPolicy(w http.ResponseWriter, _ *http.Request) {
	snap := h.policies.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    snap.Version,
		"loadedAt":   snap.LoadedAt,
		"thresholds": snap.Thresholds,
		"rules":      snap.Rules,
		"bypasses":   snap.Bypasses.Entries(),
	})
}

// EvaluatePolicy dry-runs the evaluator against an ad-hoc requisition.
func (h *HTTPHandler) EvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	var body createRequisitionBody
	if !h.decode(w, r, &body) {
		return
	}
	decision, err := h.policies.Current().Evaluate(policy.Requisition{
		Amount:           body.Amount,
		Currency:         body.Currency,
		UrgencyLevel:     body.UrgencyLevel,
		CriticalityLevel: body.CriticalityLevel,
		VesselID:         body.VesselID,
		Department:       body.Department,
		Category:         body.Category,
		Tags:             body.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) principal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := auth.FromContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return auth.Principal{}, false
	}
	return p, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeValidation, "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{
		"code":    string(errors.CodeOf(err)),
		"message": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
