package server

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/ledger"
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/validator"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// IntentPublisher is satisfied by *ingestion.IntentPublisher.
type IntentPublisher interface {
	Publish(ctx context.Context, intent *event.ActionIntent) error
}

// StatsSource is satisfied by *ledger.Ledger.
type StatsSource interface {
	Stats(ctx context.Context, q *state.PriceQuote) (ledger.ProtocolStats, error)
}

// API serves the /v1 routes.
type API struct {
	gate      *validator.Gate
	stats     StatsSource
	tracker   *action.Tracker
	publisher IntentPublisher
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewAPI(gate *validator.Gate, stats StatsSource, tracker *action.Tracker, publisher IntentPublisher, metrics *observability.Metrics) *API {
	return &API{
		gate:      gate,
		stats:     stats,
		tracker:   tracker,
		publisher: publisher,
		logger:    observability.NewLogger("api"),
		metrics:   metrics,
	}
}

const maxBodyBytes = 1 << 16

// Register mounts every route on the gateway mux.
func (a *API) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/quote", a.getQuote},
		{http.MethodGet, "/v1/accounts/{account}/risk", a.getRisk},
		{http.MethodPost, "/v1/accounts/{account}/validate", a.validate},
		{http.MethodPost, "/v1/accounts/{account}/actions", a.submit},
		{http.MethodGet, "/v1/actions/{id}", a.getAction},
		{http.MethodGet, "/v1/stats", a.getStats},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, a.instrument(rt.pattern, rt.h)); err != nil {
			return fmt.Errorf("%s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

func (a *API) getQuote(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q, err := a.gate.Quote(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(q))
}

func (a *API) getRisk(w http.ResponseWriter, r *http.Request, params map[string]string) {
	acct, ok := parseAccountParam(w, params)
	if !ok {
		return
	}
	assessment, err := a.gate.Assess(r.Context(), acct)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRiskResponse(assessment))
}

// actionRequest is the body of validate and submit. Exactly one of Amount
// (human text, e.g. "0.375") or Preset ("25%", "50%", "75%", "max") is set.
type actionRequest struct {
	Action string `json:"action"`
	Amount string `json:"amount,omitempty"`
	Preset string `json:"preset,omitempty"`
}

func (a *API) validate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	d, ok := a.decide(w, r, params)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newDecisionResponse(d))
}

func (a *API) submit(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := r.Context()
	d, ok := a.decide(w, r, params)
	if !ok {
		return
	}
	if !d.Accepted {
		writeJSON(w, rejectionStatus(d.Kind), newDecisionResponse(d))
		return
	}

	act, err := a.tracker.Create(ctx, d.Account, d.Action, d.Amount, r.Header.Get("Idempotency-Key"))
	if errors.Is(err, action.ErrDuplicateRequest) {
		writeJSON(w, http.StatusOK, submitResponse{Action: newActionResponse(act), Decision: newDecisionResponse(d)})
		return
	}
	if err != nil {
		a.writeError(w, err)
		return
	}

	var quote *state.PriceQuote
	if d.Before != nil {
		quote = &d.Quote
	}
	intent := event.NewActionIntent(act.ID, d.Account, d.Action, d.Amount, quote, d.After, act.CreatedAt)

	if err := a.publisher.Publish(ctx, intent); err != nil {
		if _, ferr := a.tracker.Fail(ctx, act.ID, "publish failed: "+err.Error(), ""); ferr != nil {
			a.logger.Error().Err(ferr).Str("action_id", act.ID.String()).Msg("mark action failed")
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "intent publish failed"})
		return
	}

	act, err = a.tracker.Start(ctx, act.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Action: newActionResponse(act), Decision: newDecisionResponse(d)})
}

// decide parses the request and runs it through the gate. It writes the
// response itself and returns false on any non-decision failure.
func (a *API) decide(w http.ResponseWriter, r *http.Request, params map[string]string) (validator.Decision, bool) {
	acct, ok := parseAccountParam(w, params)
	if !ok {
		return validator.Decision{}, false
	}

	var req actionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return validator.Decision{}, false
	}
	kind, err := state.ParseActionKind(req.Action)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return validator.Decision{}, false
	}

	amount, err := a.resolveAmount(r.Context(), acct, kind, req)
	if err != nil {
		a.writeError(w, err)
		return validator.Decision{}, false
	}

	d, err := a.gate.Check(r.Context(), acct, kind, amount)
	if err != nil {
		a.writeError(w, err)
		return validator.Decision{}, false
	}
	return d, true
}

func (a *API) resolveAmount(ctx context.Context, acct ledger.Account, kind state.ActionKind, req actionRequest) (uint256.Int, error) {
	switch {
	case req.Amount != "" && req.Preset != "":
		return uint256.Int{}, badRequest("amount and preset are mutually exclusive")
	case req.Preset != "":
		preset, err := validator.ParsePreset(req.Preset)
		if err != nil {
			return uint256.Int{}, badRequest(err.Error())
		}
		if kind == state.ActionDeposit {
			return uint256.Int{}, badRequest("deposit has no preset ceiling")
		}
		assessment, err := a.gate.Assess(ctx, acct)
		if err != nil {
			return uint256.Int{}, err
		}
		return validator.PresetAmount(kind, assessment.Position, assessment.Snapshot, preset)
	default:
		amount, err := fp.ParseAmount(req.Amount, amountConfig(kind))
		if err != nil {
			return uint256.Int{}, state.Wrap(state.KindInvalidAmount, err, "parse amount")
		}
		return amount, nil
	}
}

func (a *API) getAction(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid action id"})
		return
	}
	act, err := a.tracker.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newActionResponse(act))
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx := r.Context()
	var quote *state.PriceQuote
	if q, err := a.gate.Quote(ctx); err == nil {
		quote = &q
	} else {
		a.logger.Debug().Err(err).Msg("stats without quote")
	}

	s, err := a.stats.Stats(ctx, quote)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatsResponse(s, quote))
}

// ============================================================================
// Helpers
// ============================================================================

type badRequestError string

func (e badRequestError) Error() string { return string(e) }

func badRequest(msg string) error { return badRequestError(msg) }

func parseAccountParam(w http.ResponseWriter, params map[string]string) (ledger.Account, bool) {
	acct, err := ledger.ParseAccount(params["account"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return ledger.Account{}, false
	}
	return acct, true
}

// rejectionStatus maps a validation kind to the submit response code.
func rejectionStatus(kind state.ErrorKind) int {
	if kind == state.KindOracleUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var ve *state.ValidationError
	var br badRequestError
	switch {
	case errors.As(err, &br):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &ve):
		writeJSON(w, rejectionStatus(ve.Kind), errorResponse{Error: err.Error(), Kind: ve.Kind.String()})
	case errors.Is(err, action.ErrUnknownAction):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		a.logger.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "upstream unavailable"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) instrument(route string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		if a.metrics != nil {
			a.metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			a.metrics.APIDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}
