package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/domain/outcome"
	"github.com/kailas-cloud/quotagate/internal/domain/request"
	domusage "github.com/kailas-cloud/quotagate/internal/domain/usage"
	logpkg "github.com/kailas-cloud/quotagate/internal/logger"
	healthuc "github.com/kailas-cloud/quotagate/internal/usecase/health"
)

// maxBodyBytes bounds request bodies. Payload length is enforced by pricing.
const maxBodyBytes = 64 << 10

// Request and response headers.
const (
	HeaderSubscriberID  = "X-Subscriber-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// ledgerRetryAfter is the Retry-After hint sent with ledger_unavailable.
const ledgerRetryAfter = 5 * time.Second

// errorHandler tries to handle a domain error. Returns true if handled.
// resp carries the message and correlation id; the handler sets the code.
type errorHandler func(w http.ResponseWriter, err error, resp ErrorResponse) bool

// Server serves the quotagate HTTP API.
type Server struct {
	access        Submitter
	entitlements  EntitlementReader
	receipts      ReceiptReader
	verifier      ReceiptVerifier
	usage         UsageReporter
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	access Submitter,
	entitlements EntitlementReader,
	receipts ReceiptReader,
	verifier ReceiptVerifier,
	usage UsageReporter,
	health HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		access:       access,
		entitlements: entitlements,
		receipts:     receipts,
		verifier:     verifier,
		usage:        usage,
		health:       health,
		logger:       logger,
	}
	s.errorHandlers = []errorHandler{
		ledgerUnavailableHandler,
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, ErrorCodeRateLimited),
		sentinelHandler(domain.ErrNoAccess, http.StatusForbidden, ErrorCodeNoAccess),
		sentinelHandler(domain.ErrQuotaExhausted, http.StatusPaymentRequired, ErrorCodeQuotaExhausted),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, ErrorCodeInvalidRequest),
		sentinelHandler(domain.ErrExecutionFailed, http.StatusBadGateway, ErrorCodeExecutionFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorCodeNotFound),
	}
	return s
}

// Routes mounts the API on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/queries", s.SubmitQuery)
		r.Get("/entitlements/{subscriber_id}", s.GetEntitlement)
		r.Get("/receipts/{correlation_id}", s.GetReceipt)
		r.Post("/receipts/verify", s.VerifyReceipt)
		r.Get("/usage/{subscriber_id}", s.GetUsage)
	})
}

// SubmitQuery handles POST /v1/queries.
func (s *Server) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	subscriberID := r.Header.Get(HeaderSubscriberID)
	if subscriberID == "" {
		subscriberID = req.SubscriberID
	}
	if subscriberID == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, HeaderSubscriberID+" header is required")
		return
	}
	correlationID := r.Header.Get(HeaderCorrelationID)
	if correlationID == "" {
		correlationID = req.CorrelationID
	}

	ctx := logpkg.WithSubscriber(r.Context(), subscriberID, correlationID)
	o := s.access.Submit(ctx, request.Request{
		SubscriberID:  subscriberID,
		Payload:       req.Payload,
		SubmittedAt:   time.Now().UTC(),
		CorrelationID: correlationID,
	})

	w.Header().Set(HeaderCorrelationID, o.CorrelationID)
	setRateLimitHeaders(w, o.RateLimit)

	if o.Delivered() {
		resp := QueryResponse{
			CorrelationID:  o.CorrelationID,
			State:          string(o.State),
			Reason:         string(o.Reason),
			Content:        o.Content,
			Tier:           o.TierID,
			Cost:           o.Cost,
			RemainingQuota: o.RemainingQuota,
			Receipt:        o.Receipt,
		}
		if o.Reason == outcome.ReasonCommitFailed {
			resp.Message = o.Detail
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if o.Reason == outcome.ReasonRateLimited {
		w.Header().Set("Retry-After", retryAfter(time.Until(o.RateLimit.ResetAt)))
	}
	s.handleOutcomeError(w, r.WithContext(ctx), o)
}

// GetEntitlement handles GET /v1/entitlements/{subscriber_id}?refresh=true.
func (s *Server) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := pathParam(w, r, "subscriber_id")
	if !ok {
		return
	}
	var refresh *bool
	if err := runtime.BindQueryParameter("form", true, false, "refresh", r.URL.Query(), &refresh); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid format for parameter refresh")
		return
	}

	e, err := s.entitlements.Get(r.Context(), subscriberID, refresh != nil && *refresh)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EntitlementResponse{
		SubscriberID:   e.SubscriberID(),
		Tier:           e.TierID(),
		RemainingQuota: e.RemainingQuota(),
		ExpiresAt:      e.ExpiresAt(),
		Active:         e.Usable(time.Now()),
		SourceRecordID: e.SourceRecordID(),
	})
}

// GetReceipt handles GET /v1/receipts/{correlation_id}.
func (s *Server) GetReceipt(w http.ResponseWriter, r *http.Request) {
	correlationID, ok := pathParam(w, r, "correlation_id")
	if !ok {
		return
	}

	rc, err := s.receipts.Get(r.Context(), correlationID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rc)
}

// VerifyReceipt handles POST /v1/receipts/verify.
func (s *Server) VerifyReceipt(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Receipt.Attestation == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "receipt.attestation is required")
		return
	}

	resp := VerifyResponse{ResponseMatch: s.verifier.Verify(req.Receipt, req.Response)}
	resp.Valid = resp.ResponseMatch
	if req.Payload != nil {
		match := s.verifier.VerifyRequest(req.Receipt, *req.Payload)
		resp.PayloadMatch = &match
		resp.Valid = resp.Valid && match
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUsage handles GET /v1/usage/{subscriber_id}?period=day|month|total.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := pathParam(w, r, "subscriber_id")
	if !ok {
		return
	}
	var periodParam *string
	if err := runtime.BindQueryParameter("form", true, false, "period", r.URL.Query(), &periodParam); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid format for parameter period")
		return
	}
	period := domusage.PeriodMonth
	if periodParam != nil {
		period = domusage.Period(*periodParam)
	}

	report, err := s.usage.GetReport(r.Context(), subscriberID, period)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	m := report.Metrics()
	q := report.Quota()
	resp := UsageResponse{
		SubscriberID: report.SubscriberID(),
		Period:       string(report.Period()),
		Usage: UsageMetrics{
			Completed:   m.Completed(),
			Denied:      m.Denied(),
			Uncommitted: m.Uncommitted(),
			Units:       m.Units(),
		},
		Quota: QuotaStatus{
			Tier:      q.TierID(),
			Remaining: q.Remaining(),
			Active:    q.Active(),
		},
	}

	if report.PeriodStart() > 0 {
		start := time.UnixMilli(report.PeriodStart()).UTC()
		end := time.UnixMilli(report.PeriodEnd()).UTC()
		resp.PeriodStartAt = &start
		resp.PeriodEndAt = &end
	}
	if q.ExpiresAt() > 0 {
		exp := time.UnixMilli(q.ExpiresAt()).UTC()
		resp.Quota.ExpiresAt = &exp
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Breaker: report.Breaker,
	})
}

func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || v == "" {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid format for parameter "+name)
		return "", false
	}
	return v, true
}

func setRateLimitHeaders(w http.ResponseWriter, rl outcome.RateLimit) {
	if rl.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetAt.Unix(), 10))
}

// retryAfter formats d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	return strconv.FormatInt(max(secs, 1), 10)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a client-safe message without exposing internals.
func safeDomainMessage(err error) string {
	var ire *domain.InvalidRequestError
	if errors.As(err, &ire) {
		return ire.Detail
	}
	sentinels := []error{
		domain.ErrRateLimited,
		domain.ErrNoAccess,
		domain.ErrQuotaExhausted,
		domain.ErrInvalidRequest,
		domain.ErrNotFound,
		domain.ErrExecutionFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	if errors.Is(err, domain.ErrLedgerUnavailable) {
		return "entitlement ledger unavailable, try again later"
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, resp ErrorResponse) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		resp.Code = code
		writeJSON(w, status, resp)
		return true
	}
}

// ledgerUnavailableHandler answers 503 with a Retry-After hint.
func ledgerUnavailableHandler(w http.ResponseWriter, err error, resp ErrorResponse) bool {
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		return false
	}
	w.Header().Set("Retry-After", retryAfter(ledgerRetryAfter))
	resp.Code = ErrorCodeLedgerUnavailable
	writeJSON(w, http.StatusServiceUnavailable, resp)
	return true
}

// handleOutcomeError writes a rejected outcome. The message is the
// outcome's client-safe detail.
func (s *Server) handleOutcomeError(w http.ResponseWriter, r *http.Request, o outcome.Outcome) {
	err := o.Err()
	msg := o.Detail
	if msg == "" {
		msg = safeDomainMessage(err)
	}
	resp := ErrorResponse{Message: msg, CorrelationID: o.CorrelationID}
	for _, h := range s.errorHandlers {
		if h(w, err, resp) {
			return
		}
	}
	logpkg.FromContext(r.Context()).Error("unmapped outcome", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Debug("domain error", zap.Error(err))
	resp := ErrorResponse{Message: safeDomainMessage(err)}
	for _, h := range s.errorHandlers {
		if h(w, err, resp) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
