package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"caixafacil/backend/internal/domain"
	"caixafacil/backend/internal/service"
	"caixafacil/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	metrics       http.Handler
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
}

// New wires the handlers. A nil metrics handler leaves /metrics unrouted.
func New(svc *service.Service, auth *AuthManager, allowedOrigin string, metrics http.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		metrics:       metrics,
		logger:        logger,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("POST /api/v1/sale", a.requireAuth(a.handleCreateSale))
	mux.HandleFunc("GET /api/v1/sale/{id}", a.requireAuth(a.handleGetSale))
	mux.HandleFunc("POST /api/v1/sale/{id}/reprint", a.requireAuth(a.handleReprint))

	mux.HandleFunc("GET /api/v1/printers", a.requireAuth(a.handleListPrinters))
	mux.HandleFunc("POST /api/v1/printers", a.requireAuth(a.handleCreatePrinter))
	mux.HandleFunc("POST /api/v1/printers/clients/{clientId}", a.requireAuth(a.handleClientPrinters))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("token de acesso ausente"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("muitas tentativas de login, aguarde um minuto"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveSeller) {
			status = http.StatusUnauthorized
		}
		a.fail(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// saleFailure carries the committed sale next to the request-level error.
type saleFailure struct {
	Error string `json:"error"`
	domain.SaleResponse
}

func (a *API) writeSale(w http.ResponseWriter, successStatus int, resp domain.SaleResponse, err error) {
	if err == nil {
		writeJSON(w, successStatus, resp)
		return
	}
	if errors.Is(err, service.ErrFiscalPrintFailed) {
		a.logger.Warn("fiscal receipt not printed", zap.String("sale_id", resp.Sale.ID), zap.Error(err))
		writeJSON(w, http.StatusFailedDependency, saleFailure{Error: err.Error(), SaleResponse: resp})
		return
	}
	a.fail(w, statusFor(err), err)
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	a.writeSale(w, http.StatusCreated, resp, err)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	a.writeSale(w, http.StatusOK, resp, err)
}

func (a *API) handleReprint(w http.ResponseWriter, r *http.Request) {
	// the body is optional on reprint
	var req domain.ReprintRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.Reprint(r.Context(), r.PathValue("id"), req)
	a.writeSale(w, http.StatusOK, resp, err)
}

func (a *API) handleListPrinters(w http.ResponseWriter, r *http.Request) {
	printers, err := a.service.ListPrinters(r.Context())
	if err != nil {
		a.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"printers": printers})
}

func (a *API) handleCreatePrinter(w http.ResponseWriter, r *http.Request) {
	var req domain.PrinterCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	printer, err := a.service.RegisterPrinter(r.Context(), req)
	if err != nil {
		a.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"printer": printer})
}

func (a *API) handleClientPrinters(w http.ResponseWriter, r *http.Request) {
	var req domain.ClientPrinterRegistration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	clientID := r.PathValue("clientId")
	if err := a.service.RegisterClientPrinters(r.Context(), clientID, req.Printers); err != nil {
		a.fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_id": clientID, "printers": len(req.Printers)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrAmountMismatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrFiscalPrintFailed):
		return http.StatusFailedDependency
	}
	return http.StatusInternalServerError
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// fail logs server-side failures before writing the masked response.
func (a *API) fail(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "erro interno do servidor"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
