package routes

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"reserveledger/core/state"
	"reserveledger/core/state/layout"
	"reserveledger/core/types"
	"reserveledger/gateway/middleware"
	"reserveledger/native/reserve"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

type handlers struct {
	ledger LedgerReader
	logger *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  uint32 `json:"code,omitempty"`
}

type ledgerResponse struct {
	*layout.LedgerState
	AttestationRoot string `json:"attestationRoot"`
	Layout          string `json:"layout"`
}

type auditEntryResponse struct {
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Prev       string            `json:"prev"`
	Digest     string            `json:"digest"`
}

type auditResponse struct {
	Entries []auditEntryResponse `json:"entries"`
	Next    uint64               `json:"next"`
}

func (h *handlers) ledgerState(w http.ResponseWriter, r *http.Request) {
	ledger, err := h.ledger.LedgerState()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	version, err := h.ledger.LedgerLayout()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerResponse{
		LedgerState:     ledger,
		AttestationRoot: "0x" + hex.EncodeToString(ledger.AttestationRoot[:]),
		Layout:          version.String(),
	})
}

func (h *handlers) profile(w http.ResponseWriter, r *http.Request) {
	owner, err := types.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	profile, err := h.ledger.UserProfile(owner)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *handlers) redemption(w http.ResponseWriter, r *http.Request) {
	requester, err := types.ParseAddress(chi.URLParam(r, "requester"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request id"})
		return
	}
	req, err := h.ledger.Redemption(requester, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var from uint64
	if raw := query.Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid from"})
			return
		}
		from = parsed
	}
	limit := defaultAuditLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = min(parsed, maxAuditLimit)
	}
	entries, err := h.ledger.AuditEntries(from, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := auditResponse{Entries: make([]auditEntryResponse, 0, len(entries)), Next: from}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, renderAuditEntry(entry))
		resp.Next = entry.Seq + 1
	}
	writeJSON(w, http.StatusOK, resp)
}

func renderAuditEntry(entry *state.AuditEntry) auditEntryResponse {
	return auditEntryResponse{
		Seq:        entry.Seq,
		Type:       entry.Type,
		Attributes: entry.Event().Attributes,
		Prev:       "0x" + hex.EncodeToString(entry.Prev[:]),
		Digest:     "0x" + hex.EncodeToString(entry.Digest[:]),
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	if code, ok := reserve.CodeOf(err); ok {
		resp.Code = code
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("gateway query failed",
			slog.String("requestId", middleware.RequestID(r.Context())),
			slog.String("route", r.URL.Path),
			slog.Any("error", err))
		resp = errorResponse{Error: http.StatusText(status)}
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, reserve.ErrNotInitialized),
		errors.Is(err, reserve.ErrProfileNotFound),
		errors.Is(err, reserve.ErrRedemptionNotFound):
		return http.StatusNotFound
	case errors.Is(err, reserve.ErrLayoutMismatch):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
