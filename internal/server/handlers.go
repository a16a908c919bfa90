package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/provenance-cli/internal/model"
	"github.com/sells-group/provenance-cli/internal/store"
	"github.com/sells-group/provenance-cli/internal/verification"
)

type openRequestBody struct {
	ProductID        string            `json:"product_id"`
	Kind             model.RequestKind `json:"kind"`
	Eligible         []string          `json:"eligible"`
	ApproveThreshold int               `json:"approve_threshold"`
	RejectThreshold  int               `json:"reject_threshold"`
	Timeout          string            `json:"timeout"` // Go duration, e.g. "72h"
}

type voteBody struct {
	Voter   string `json:"voter"`
	Approve *bool  `json:"approve"`
}

type stateResponse struct {
	ID    string             `json:"id"`
	State model.RequestState `json:"state"`
}

type errorResponse struct {
	Error string             `json:"error"`
	Kind  model.ErrorKind    `json:"kind,omitempty"`
	State model.RequestState `json:"state,omitempty"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /v1/products/{id}/assessment
func assessmentHandler(a Assessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		res, err := a.AssessProduct(r.Context(), id)
		if err != nil {
			writeKindError(w, err, "")
			return
		}
		// An incomplete timeline is a warning; the body still carries the
		// critical assessment.
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /v1/requests?product_id=&state=&limit=&offset=
func listRequestsHandler(reqs Requests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.RequestFilter{
			ProductID: q.Get("product_id"),
			State:     model.RequestState(q.Get("state")),
		}
		var err error
		if filter.Limit, err = intParam(q.Get("limit")); err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if filter.Offset, err = intParam(q.Get("offset")); err != nil {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}

		list, err := reqs.List(r.Context(), filter)
		if err != nil {
			writeKindError(w, err, "")
			return
		}
		if list == nil {
			list = []*model.VerificationRequest{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})
	}
}

// POST /v1/requests
func openRequestHandler(reqs Requests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body openRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var timeout time.Duration
		if body.Timeout != "" {
			d, err := time.ParseDuration(body.Timeout)
			if err != nil || d <= 0 {
				writeError(w, http.StatusBadRequest, "timeout must be a positive duration such as 72h")
				return
			}
			timeout = d
		}

		req, err := reqs.Open(r.Context(), verification.OpenParams{
			ProductID:        body.ProductID,
			Kind:             body.Kind,
			Eligible:         body.Eligible,
			ApproveThreshold: body.ApproveThreshold,
			RejectThreshold:  body.RejectThreshold,
			Timeout:          timeout,
		})
		if err != nil {
			writeKindError(w, err, "")
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

// GET /v1/requests/{id}
func getRequestHandler(reqs Requests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := reqs.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeKindError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

// POST /v1/requests/{id}/votes
func voteHandler(reqs Requests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var body voteBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Voter == "" || body.Approve == nil {
			writeError(w, http.StatusBadRequest, "voter and approve are required")
			return
		}

		state, err := reqs.SubmitVote(r.Context(), id, body.Voter, *body.Approve)
		if err != nil {
			writeKindError(w, err, state)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse{ID: id, State: state})
	}
}

// POST /v1/requests/{id}/expire
func expireHandler(reqs Requests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		state, err := reqs.ResolveExpired(r.Context(), id)
		if err != nil {
			writeKindError(w, err, state)
			return
		}
		writeJSON(w, http.StatusOK, stateResponse{ID: id, State: state})
	}
}

// GET /v1/metrics?hours=
func metricsHandler(m Metrics, lookback int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours, err := intParam(r.URL.Query().Get("hours"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "hours must be a non-negative integer")
			return
		}
		if hours == 0 {
			hours = lookback
		}
		snap, err := m.Collect(r.Context(), hours)
		if err != nil {
			writeKindError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// statusForKind maps an error kind to its HTTP status.
func statusForKind(k model.ErrorKind) int {
	switch k {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindAuthorizationDenied:
		return http.StatusForbidden
	case model.KindAlreadyResolved, model.KindConflict:
		return http.StatusConflict
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindDataIncomplete:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeKindError(w http.ResponseWriter, err error, state model.RequestState) {
	kind := model.KindOf(err)
	status := statusForKind(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("server: request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind, State: state})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: model.KindInvalidInput})
}
