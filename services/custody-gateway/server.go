package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/gateway/auth"
	"custodia/gateway/middleware"
	"custodia/observability"
	"custodia/native/crowdfund"
	"custodia/native/custody"
	"custodia/native/escrow"
	"custodia/native/p2p"
)

// Server exposes the three custody engines over HTTP. Mutations are
// idempotent via the Idempotency-Key header and every request lands in the
// audit log.
type Server struct {
	escrows   *escrow.Engine
	pools     *crowdfund.Engine
	transfers *p2p.Engine

	store         *SQLiteStore
	authenticator *auth.Authenticator
	limiter       *middleware.RateLimiter
	obs           *middleware.Observability
	cors          middleware.CORSConfig
	logger        *slog.Logger
}

// ServerConfig wires the collaborators a Server needs.
type ServerConfig struct {
	Escrow    *escrow.Engine
	Pools     *crowdfund.Engine
	Transfers *p2p.Engine

	Store         *SQLiteStore
	Authenticator *auth.Authenticator
	Limiter       *middleware.RateLimiter
	CORS          middleware.CORSConfig
	ServiceName   string
	Logger        *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(nil)
	}
	return &Server{
		escrows:       cfg.Escrow,
		pools:         cfg.Pools,
		transfers:     cfg.Transfers,
		store:         cfg.Store,
		authenticator: cfg.Authenticator,
		limiter:       limiter,
		obs:           middleware.NewObservability(cfg.ServiceName),
		cors:          cfg.CORS,
		logger:        logger,
	}
}

// Router assembles the chi mux with middleware and the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(s.cors))

	r.Method(http.MethodGet, "/healthz", s.obs.Middleware("healthz")(http.HandlerFunc(s.handleHealthz)))
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(v1 chi.Router) {
		if s.authenticator != nil {
			v1.Use(middleware.RequireSignature(s.authenticator, s.logger))
		}

		v1.Route("/escrow", func(er chi.Router) {
			er.Method(http.MethodPost, "/", s.mutation("escrow_create", s.handleEscrowCreate))
			er.Method(http.MethodGet, "/{id}", s.query("escrow_get", s.handleEscrowGet))
			er.Method(http.MethodPost, "/{id}/milestones", s.mutation("escrow_add_milestone", s.handleMilestoneAdd))
			er.Method(http.MethodPost, "/{id}/milestones/{milestoneID}/complete", s.mutation("escrow_complete_milestone", s.handleMilestoneComplete))
			er.Method(http.MethodPost, "/{id}/schedule", s.mutation("escrow_add_slot", s.handleSlotAdd))
			er.Method(http.MethodPost, "/{id}/schedule/{index}/release", s.mutation("escrow_release_slot", s.handleSlotRelease))
			er.Method(http.MethodPost, "/{id}/release", s.mutation("escrow_release_due", s.handleReleaseDue))
			er.Method(http.MethodPost, "/{id}/withdraw", s.mutation("escrow_withdraw", s.handleWithdraw))
			er.Method(http.MethodPost, "/{id}/dispute", s.mutation("escrow_dispute", s.handleDispute))
			er.Method(http.MethodPost, "/{id}/resolve", s.mutation("escrow_resolve", s.handleResolve))
		})

		v1.Route("/pools", func(pr chi.Router) {
			pr.Method(http.MethodPost, "/", s.mutation("pool_create", s.handlePoolCreate))
			pr.Method(http.MethodGet, "/{id}", s.query("pool_get", s.handlePoolGet))
			pr.Method(http.MethodPost, "/{id}/contributions", s.mutation("pool_contribute", s.handleContribute))
			pr.Method(http.MethodPost, "/{id}/finalize", s.mutation("pool_finalize", s.handleFinalize))
			pr.Method(http.MethodPost, "/{id}/refunds", s.mutation("pool_refund", s.handleRefund))
		})

		v1.Route("/transfers", func(tr chi.Router) {
			tr.Method(http.MethodPost, "/", s.mutation("transfer_direct", s.handleTransferDirect))
			tr.Method(http.MethodPost, "/escrow", s.mutation("transfer_open_escrow", s.handleTransferEscrow))
			tr.Method(http.MethodGet, "/{id}", s.query("transfer_get", s.handleTransferGet))
			tr.Method(http.MethodPost, "/{id}/confirm", s.mutation("transfer_confirm", s.handleTransferConfirm))
			tr.Method(http.MethodPost, "/{id}/cancel", s.mutation("transfer_cancel", s.handleTransferCancel))
		})
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

type mutationFunc func(r *http.Request, body []byte) (int, interface{})
type queryFunc func(r *http.Request) (int, interface{})

// mutation wraps a state-changing handler with rate limiting, idempotency
// replay and audit logging.
func (s *Server) mutation(route string, fn mutationFunc) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, int64(auth.MaxBodyForSignature)+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unreadable request body"})
			return
		}
		if len(body) > auth.MaxBodyForSignature {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}

		apiKey := ""
		if principal, ok := middleware.PrincipalFromContext(r.Context()); ok {
			apiKey = principal.APIKey
		}

		idemKey := r.Header.Get("Idempotency-Key")
		requestHash := hashRequest(r.Method, r.URL.Path, body)
		if idemKey != "" && s.store != nil {
			cached, err := s.store.LookupIdempotency(r.Context(), apiKey, idemKey, requestHash)
			if errors.Is(err, ErrIdempotencyMismatch) {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key already used with a different request"})
				return
			}
			if err != nil {
				s.logger.Error("idempotency lookup failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
				return
			}
			if cached != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotency-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}
		}

		start := time.Now()
		status, payload := fn(r, body)
		observeEngineOp(route, status, payload, time.Since(start))
		responseBody, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("encode response", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			return
		}

		if idemKey != "" && s.store != nil && status < http.StatusInternalServerError {
			if err := s.store.SaveIdempotency(r.Context(), apiKey, idemKey, requestHash, status, responseBody); err != nil {
				s.logger.Error("idempotency save failed", "error", err)
			}
		}
		s.audit(r.Context(), apiKey, r.Method, r.URL.Path, body, status, responseBody)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(responseBody)
	})
	return s.obs.Middleware(route)(s.limiter.Middleware("mutations")(inner))
}

func (s *Server) query(route string, fn queryFunc) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		status, payload := fn(r)
		observeEngineOp(route, status, payload, time.Since(start))
		writeJSON(w, status, payload)
	})
	return s.obs.Middleware(route)(inner)
}

// observeEngineOp feeds the engine operation collectors. Route names follow
// the variant_operation convention used in the route table.
func observeEngineOp(route string, status int, payload interface{}, duration time.Duration) {
	variant, operation, found := strings.Cut(route, "_")
	if !found {
		return
	}
	var opErr error
	if resp, ok := payload.(errorResponse); ok && status >= http.StatusBadRequest {
		opErr = errors.New(resp.Error)
	}
	observability.Engine().Observe(variant, operation, duration, opErr)
}

func (s *Server) audit(ctx context.Context, apiKey, method, path string, body []byte, status int, response []byte) {
	if s.store == nil {
		return
	}
	err := s.store.InsertAuditLog(ctx, AuditEntry{
		APIKey:         apiKey,
		Method:         method,
		Path:           path,
		RequestBody:    body,
		ResponseStatus: status,
		ResponseBody:   response,
		Timestamp:      time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("audit insert failed", "error", err)
	}
}

func hashRequest(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte("\n"))
	h.Write([]byte(path))
	h.Write([]byte("\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func errorPayload(err error) (int, interface{}) {
	return httpStatusFor(err), errorResponse{Error: err.Error()}
}

func badRequest(err error) (int, interface{}) {
	return http.StatusBadRequest, errorResponse{Error: err.Error()}
}

// httpStatusFor maps engine errors onto HTTP statuses. Unknown errors are
// treated as internal.
func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, custody.ErrNotInitialized),
		errors.Is(err, custody.ErrMilestoneNotFound):
		return http.StatusNotFound
	case errors.Is(err, custody.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, custody.ErrAlreadyInitialized),
		errors.Is(err, custody.ErrMilestoneAlreadyCompleted),
		errors.Is(err, custody.ErrNoReleasesDue),
		errors.Is(err, custody.ErrTimeNotReached),
		errors.Is(err, custody.ErrInsufficientFunds),
		errors.Is(err, custody.ErrNoContribution),
		errors.Is(err, escrow.ErrContractNotActive),
		errors.Is(err, escrow.ErrDisputeActive),
		errors.Is(err, escrow.ErrNoDisputeActive),
		errors.Is(err, crowdfund.ErrPoolNotFunding),
		errors.Is(err, crowdfund.ErrFundingClosed),
		errors.Is(err, crowdfund.ErrDeadlineNotReached),
		errors.Is(err, crowdfund.ErrPoolNotFailed),
		errors.Is(err, p2p.ErrTransferNotPending):
		return http.StatusConflict
	case errors.Is(err, custody.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidResolution),
		errors.Is(err, escrow.ErrWrongReleaseMode),
		errors.Is(err, crowdfund.ErrInvalidDeadline):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) ([32]byte, error) {
	return parseID(chi.URLParam(r, "id"))
}

func (s *Server) handleEscrowCreate(r *http.Request, body []byte) (int, interface{}) {
	var req escrowCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	id, err := parseID(req.ID)
	if err != nil {
		return badRequest(err)
	}
	client, err := parseParty(req.Client)
	if err != nil {
		return badRequest(err)
	}
	provider, err := parseParty(req.Provider)
	if err != nil {
		return badRequest(err)
	}
	arbiter, err := parseOptionalParty(req.Arbiter)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	mode, err := parseReleaseMode(req.Mode)
	if err != nil {
		return badRequest(err)
	}
	contract, err := s.escrows.Initialize(id, client, provider, amount, mode, arbiter)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusCreated, contractToView(contract)
}

func (s *Server) handleEscrowGet(r *http.Request) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	contract, err := s.escrows.Contract(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, contractToView(contract)
}

func (s *Server) handleMilestoneAdd(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req milestoneAddRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	if err := s.escrows.AddMilestone(id, caller, req.MilestoneID, req.Description, amount); err != nil {
		return errorPayload(err)
	}
	return http.StatusCreated, map[string]uint64{"milestoneId": req.MilestoneID}
}

func (s *Server) handleMilestoneComplete(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	milestoneID, err := strconv.ParseUint(chi.URLParam(r, "milestoneID"), 10, 64)
	if err != nil {
		return badRequest(err)
	}
	var req callerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	released, err := s.escrows.CompleteMilestone(id, caller, milestoneID)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": released.String()}
}

func (s *Server) handleSlotAdd(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req slotAddRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	if err := s.escrows.AddTimeSlot(id, caller, req.ReleaseTime, amount); err != nil {
		return errorPayload(err)
	}
	return http.StatusCreated, map[string]int64{"releaseTime": req.ReleaseTime}
}

func (s *Server) handleSlotRelease(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return badRequest(err)
	}
	released, err := s.escrows.ReleaseScheduled(id, index)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": released.String()}
}

func (s *Server) handleReleaseDue(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	released, err := s.escrows.ReleaseDue(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": released.String()}
}

func (s *Server) handleWithdraw(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req callerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	amount, err := s.escrows.Withdraw(id, caller)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": amount.String()}
}

func (s *Server) handleDispute(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req callerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	if err := s.escrows.Dispute(id, caller); err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"status": escrow.StatusDisputed.String()}
}

func (s *Server) handleResolve(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	resolution, err := parseResolution(req.Resolution)
	if err != nil {
		return badRequest(err)
	}
	if err := s.escrows.ResolveDispute(id, caller, resolution); err != nil {
		return errorPayload(err)
	}
	status, err := s.escrows.Status(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"status": status.String()}
}

func (s *Server) handlePoolCreate(r *http.Request, body []byte) (int, interface{}) {
	var req poolCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	id, err := parseID(req.ID)
	if err != nil {
		return badRequest(err)
	}
	owner, err := parseParty(req.Owner)
	if err != nil {
		return badRequest(err)
	}
	goal, err := parseAmount(req.Goal)
	if err != nil {
		return badRequest(err)
	}
	pool, err := s.pools.Initialize(id, owner, goal, req.Deadline)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusCreated, poolToView(pool)
}

func poolToView(p *crowdfund.Pool) poolView {
	return poolView{
		ID:        hex.EncodeToString(p.ID[:]),
		Owner:     p.Owner.Hex(),
		Goal:      p.Goal.String(),
		Raised:    p.Balance.Raised.String(),
		Deadline:  p.Deadline,
		Status:    p.Status.String(),
		CreatedAt: p.CreatedAt,
	}
}

func (s *Server) handlePoolGet(r *http.Request) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	pool, err := s.pools.Pool(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, poolToView(pool)
}

func (s *Server) handleContribute(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req contributeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	contributor, err := parseParty(req.Contributor)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	if err := s.pools.Contribute(id, contributor, amount); err != nil {
		return errorPayload(err)
	}
	total, err := s.pools.ContributionOf(id, contributor)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"contribution": total.String()}
}

func (s *Server) handleFinalize(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	status, err := s.pools.Finalize(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"status": status.String()}
}

func (s *Server) handleRefund(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req refundRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	contributor, err := parseParty(req.Contributor)
	if err != nil {
		return badRequest(err)
	}
	amount, err := s.pools.Refund(id, contributor)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": amount.String()}
}

func (s *Server) handleTransferDirect(r *http.Request, body []byte) (int, interface{}) {
	var req transferDirectRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	sender, err := parseParty(req.Sender)
	if err != nil {
		return badRequest(err)
	}
	receiver, err := parseParty(req.Receiver)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	if err := s.transfers.SendDirect(sender, receiver, amount); err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"status": "completed"}
}

func transferToView(t *p2p.Transfer) transferView {
	return transferView{
		ID:        hex.EncodeToString(t.ID[:]),
		Sender:    t.Sender.Hex(),
		Receiver:  t.Receiver.Hex(),
		Amount:    t.Amount.String(),
		UseEscrow: t.UseEscrow,
		Status:    t.Status.String(),
		CreatedAt: t.CreatedAt,
	}
}

func (s *Server) handleTransferEscrow(r *http.Request, body []byte) (int, interface{}) {
	var req transferEscrowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	id, err := parseID(req.ID)
	if err != nil {
		return badRequest(err)
	}
	sender, err := parseParty(req.Sender)
	if err != nil {
		return badRequest(err)
	}
	receiver, err := parseParty(req.Receiver)
	if err != nil {
		return badRequest(err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return badRequest(err)
	}
	transfer, err := s.transfers.OpenEscrow(id, sender, receiver, amount)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusCreated, transferToView(transfer)
}

func (s *Server) handleTransferGet(r *http.Request) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	transfer, err := s.transfers.Transfer(id)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, transferToView(transfer)
}

func (s *Server) handleTransferConfirm(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req callerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	amount, err := s.transfers.ConfirmReceipt(id, caller)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": amount.String()}
}

func (s *Server) handleTransferCancel(r *http.Request, body []byte) (int, interface{}) {
	id, err := pathID(r)
	if err != nil {
		return badRequest(err)
	}
	var req callerRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest(err)
	}
	caller, err := parseParty(req.Caller)
	if err != nil {
		return badRequest(err)
	}
	amount, err := s.transfers.Cancel(id, caller)
	if err != nil {
		return errorPayload(err)
	}
	return http.StatusOK, map[string]string{"amount": amount.String()}
}
