// Package gateway exposes the confidential batch protocol over HTTP: the
// provider submission and analyst request surface, the owner-only
// administrative surface, and the HMAC-authenticated decryption oracle
// callback.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"fhecoproc/audit"
	"fhecoproc/crypto"
	"fhecoproc/fhe"
	"fhecoproc/gateway/auth"
	"fhecoproc/gateway/middleware"
	"fhecoproc/native/confidential"
	"fhecoproc/observability/logging"
	"fhecoproc/observability/metrics"
)

// Config wires the protocol engine and its collaborators into the router.
type Config struct {
	Engine        *confidential.Engine
	Journal       *audit.Journal
	Logger        *slog.Logger
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Callback      *auth.Verifier
	// OracleCaller is the protocol identity attributed to verified
	// callback deliveries.
	OracleCaller [20]byte
}

type Server struct {
	engine       *confidential.Engine
	journal      *audit.Journal
	log          *slog.Logger
	callback     *auth.Verifier
	oracleCaller [20]byte
}

// NewRouter builds the HTTP handler for the coprocessor surface.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:       cfg.Engine,
		journal:      cfg.Journal,
		log:          logger,
		callback:     cfg.Callback,
		oracleCaller: cfg.OracleCaller,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	limited := func(key string, h http.HandlerFunc) http.Handler {
		if cfg.RateLimiter == nil {
			return h
		}
		return cfg.RateLimiter.Middleware(key)(h)
	}

	r.Method(http.MethodPost, "/v1/submit", limited("submit", srv.handleSubmit))
	r.Method(http.MethodPost, "/v1/analysis", limited("analysis", srv.handleRequestAnalysis))
	r.Post("/v1/oracle/callback", srv.handleOracleCallback)

	r.Get("/v1/batches/current", srv.handleCurrentBatch)
	r.Get("/v1/batches/{id}", srv.handleBatch)
	r.Get("/v1/requests/{id}", srv.handleRequestContext)
	r.Get("/v1/events", srv.handleEvents)

	r.Route("/v1/admin", func(ar chi.Router) {
		if cfg.Authenticator != nil {
			ar.Use(cfg.Authenticator.Middleware("admin"))
		}
		ar.Post("/ownership", srv.handleTransferOwnership)
		ar.Post("/providers/add", srv.handleAddProvider)
		ar.Post("/providers/remove", srv.handleRemoveProvider)
		ar.Post("/pause", srv.handleSetPaused)
		ar.Post("/cooldown", srv.handleSetCooldown)
		ar.Post("/batches/open", srv.handleOpenBatch)
		ar.Post("/batches/close", srv.handleCloseBatch)
	})
	return r
}

// statusFor maps the engine's failure taxonomy onto HTTP status codes.
func statusFor(err error) int {
	if errors.Is(err, confidential.ErrUnknownBatch) || errors.Is(err, confidential.ErrUnknownRequest) {
		return http.StatusNotFound
	}
	switch confidential.Classify(err) {
	case confidential.KindAuthorization:
		return http.StatusForbidden
	case confidential.KindAvailability:
		return http.StatusServiceUnavailable
	case confidential.KindRateLimit:
		return http.StatusTooManyRequests
	case confidential.KindState:
		return http.StatusConflict
	case confidential.KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		if errors.Is(err, fhe.ErrMalformedHandle) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, out any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseCaller(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseHandle(value string) (fhe.Handle, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return fhe.Handle{}, fhe.ErrMalformedHandle
	}
	return fhe.NewHandle(raw)
}

// --- Protocol surface ---

type submitRequest struct {
	Caller string `json:"caller"`
	Handle string `json:"handle"`
}

type submitResponse struct {
	BatchID uint64 `json:"batchId"`
	Index   uint64 `json:"index"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	handle, err := parseHandle(req.Handle)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	batchID, index, err := s.engine.Submit(caller, handle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fp := handle.Fingerprint()
	s.log.Debug("ciphertext accepted", "batchId", batchID, "index", index, "handle", hex.EncodeToString(fp[:8]))
	writeJSON(w, http.StatusOK, submitResponse{BatchID: batchID, Index: index})
}

type analysisRequest struct {
	Caller    string `json:"caller"`
	BatchID   uint64 `json:"batchId"`
	Index     uint64 `json:"index"`
	Threshold string `json:"threshold"`
}

type analysisResponse struct {
	RequestID string `json:"requestId"`
}

func (s *Server) handleRequestAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	threshold, err := parseHandle(req.Threshold)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	requestID, err := s.engine.RequestAnalysis(r.Context(), caller, req.BatchID, req.Index, threshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, analysisResponse{RequestID: requestID})
}

type callbackRequest struct {
	RequestID string `json:"requestId"`
	Cleartext string `json:"cleartext"`
	Proof     string `json:"proof"`
}

type callbackResponse struct {
	RequestID string `json:"requestId"`
	Result    bool   `json:"result"`
}

func (s *Server) handleOracleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body"})
		return
	}
	if s.callback != nil {
		if _, err := s.callback.Verify(r, body); err != nil {
			s.log.Warn("callback rejected", "error", err)
			metrics.Confidential().ObserveCallback("unauthenticated")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "callback authentication failed"})
			return
		}
	}
	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	cleartext, err := hex.DecodeString(strings.TrimSpace(req.Cleartext))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid cleartext encoding"})
		return
	}
	proof, err := hex.DecodeString(strings.TrimSpace(req.Proof))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid proof encoding"})
		return
	}
	result, err := s.engine.OnDecryptionResult(s.oracleCaller, req.RequestID, cleartext, proof)
	if err != nil {
		metrics.Confidential().ObserveCallback("rejected")
		s.writeError(w, err)
		return
	}
	s.log.Info("decryption finalized", "requestId", req.RequestID, logging.MaskField("cleartext", req.Cleartext))
	writeJSON(w, http.StatusOK, callbackResponse{RequestID: req.RequestID, Result: result})
}

// --- Reads ---

func (s *Server) handleCurrentBatch(w http.ResponseWriter, _ *http.Request) {
	id, err := s.engine.CurrentBatchID()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if id == 0 {
		s.writeError(w, confidential.ErrNoCurrentBatch)
		return
	}
	batch, err := s.engine.BatchInfo(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid batch id"})
		return
	}
	batch, err := s.engine.BatchInfo(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type requestContextResponse struct {
	RequestID string `json:"requestId"`
	BatchID   uint64 `json:"batchId"`
	Status    string `json:"status"`
	Result    *bool  `json:"result,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

func (s *Server) handleRequestContext(w http.ResponseWriter, r *http.Request) {
	reqCtx, err := s.engine.RequestContext(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := requestContextResponse{
		RequestID: reqCtx.RequestID,
		BatchID:   reqCtx.BatchID,
		Status:    string(reqCtx.Status()),
		CreatedAt: reqCtx.CreatedAt,
		ExpiresAt: reqCtx.ExpiresAt,
	}
	if reqCtx.Processed {
		result := reqCtx.Result
		resp.Result = &result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "journal not configured"})
		return
	}
	start := uint64(1)
	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start"})
			return
		}
		start = parsed
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}
	records, err := s.journal.Records(start, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Administration ---

type ownershipRequest struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	newOwner, err := parseCaller(req.NewOwner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type providerRequest struct {
	Caller   string `json:"caller"`
	Provider string `json:"provider"`
}

func (s *Server) handleProviderChange(w http.ResponseWriter, r *http.Request, change func(caller, provider [20]byte) error) {
	var req providerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	provider, err := parseCaller(req.Provider)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := change(caller, provider); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	s.handleProviderChange(w, r, s.engine.AddProvider)
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	s.handleProviderChange(w, r, s.engine.RemoveProvider)
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.SetPaused(caller, req.Paused); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cooldownRequest struct {
	Caller  string `json:"caller"`
	Seconds uint64 `json:"seconds"`
}

func (s *Server) handleSetCooldown(w http.ResponseWriter, r *http.Request) {
	var req cooldownRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.SetCooldown(caller, req.Seconds); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchLifecycleRequest struct {
	Caller string `json:"caller"`
}

type openBatchResponse struct {
	BatchID uint64 `json:"batchId"`
}

func (s *Server) handleOpenBatch(w http.ResponseWriter, r *http.Request) {
	var req batchLifecycleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	batchID, err := s.engine.OpenNewBatch(caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, openBatchResponse{BatchID: batchID})
}

func (s *Server) handleCloseBatch(w http.ResponseWriter, r *http.Request) {
	var req batchLifecycleRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseCaller(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.engine.CloseCurrentBatch(caller); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
