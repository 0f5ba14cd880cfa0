package presentation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RaikyD/vin-report-service/internal/application"
	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/extract"
	"github.com/RaikyD/vin-report-service/internal/logger"
	"github.com/RaikyD/vin-report-service/internal/presentation/helpers"
	"github.com/RaikyD/vin-report-service/internal/report"
)

const defaultMaxBody = 1 << 20

type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
	StartedAt time.Time
}

type Options struct {
	MaxBodyBytes   int64
	DebugEndpoints bool
}

type OrdersHandler struct {
	p    *application.Pipeline
	info BuildInfo
	opts Options
}

func NewOrdersHandler(p *application.Pipeline, info BuildInfo, opts Options) *OrdersHandler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	return &OrdersHandler{p: p, info: info, opts: opts}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/webhook/order", h.OrderWebhook)
	r.Get("/report/{vin}", h.Preview)
	r.Get("/version", h.Version)
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSecret)
		r.Get("/premium-report/{vin}", h.PremiumReport)
		r.Get("/orders/{orderKey}", h.GetOrder)
		r.Post("/orders/resend", h.Resend)
		if h.opts.DebugEndpoints {
			r.HandleFunc("/debug/echo", h.Echo)
		}
	})
}

// OrderWebhook answers the platform with 200 for every terminal outcome
// except failures worth retrying, which get 502.
func (h *OrdersHandler) OrderWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.p.Authorize(secretFrom(r)) {
		helpers.HttpError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		// the partial body still goes through the pipeline and ends in manual review
		logger.Warn("webhook body read failed", "err", err, "read", len(body))
	}

	defer func() {
		if rec := recover(); rec != nil {
			stack := debug.Stack()
			logger.Error("webhook panic", "panic", rec, "stack", string(stack))
			h.p.ReportPanic(r.Context(), body, rec, stack)
			helpers.HttpError(w, http.StatusInternalServerError, "internal error")
		}
	}()

	out := h.p.Process(r.Context(), body)

	status := http.StatusOK
	if out.Status == domain.StatusFailed && out.Retryable {
		status = http.StatusBadGateway
	}
	helpers.WriteJSON(w, status, out)
}

func (h *OrdersHandler) Preview(w http.ResponseWriter, r *http.Request) {
	vin, ok := vinParam(w, r)
	if !ok {
		return
	}
	s, err := h.p.Preview(r.Context(), vin)
	if err != nil {
		decodeFailure(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, s)
}

func (h *OrdersHandler) PremiumReport(w http.ResponseWriter, r *http.Request) {
	vin, ok := vinParam(w, r)
	if !ok {
		return
	}
	rep, err := h.p.Report(r.Context(), vin)
	if err != nil {
		decodeFailure(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, rep)
}

func (h *OrdersHandler) Version(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"version":        h.info.Version,
		"commit":         h.info.Commit,
		"build_time":     h.info.BuildTime,
		"started_at":     h.info.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
	})
}

func (h *OrdersHandler) Health(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "orderKey"))
	if key == "" {
		helpers.HttpError(w, http.StatusBadRequest, "order key is empty")
		return
	}

	rec, err := h.p.Lookup(r.Context(), key)
	switch {
	case errors.Is(err, application.ErrNoJournal):
		helpers.HttpError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, application.ErrNotFound):
		helpers.HttpError(w, http.StatusNotFound, "order not found")
	case err != nil:
		logger.Warn("journal lookup failed", "order_key", key, "err", err)
		helpers.HttpError(w, http.StatusInternalServerError, "failed to get order")
	default:
		helpers.WriteJSON(w, http.StatusOK, rec)
	}
}

func (h *OrdersHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var cmd domain.ResendCommand
	if err := helpers.DecodeJSON(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes), &cmd); err != nil {
		helpers.HttpError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	out, err := h.p.Resend(r.Context(), cmd)
	switch {
	case errors.Is(err, application.ErrInvalidResend):
		helpers.HttpError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		helpers.WriteJSON(w, http.StatusBadGateway, out)
	default:
		helpers.WriteJSON(w, http.StatusOK, out)
	}
}

// Echo returns the request as received, for integration debugging.
func (h *OrdersHandler) Echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	helpers.WriteJSON(w, http.StatusOK, map[string]any{
		"method":  r.Method,
		"path":    r.URL.Path,
		"query":   r.URL.Query(),
		"headers": r.Header,
		"body":    string(body),
	})
}

func (h *OrdersHandler) requireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.p.Authorize(secretFrom(r)) {
			helpers.HttpError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secretFrom reads the shared secret from headers first, then the query
// string for platforms that cannot set custom headers.
func secretFrom(r *http.Request) string {
	for _, name := range []string{"X-Webhook-Secret", "X-Webhook-Token"} {
		if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
			return v
		}
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	q := r.URL.Query()
	for _, name := range []string{"secret", "token"} {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

func vinParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	vin := extract.NormalizeVIN(chi.URLParam(r, "vin"))
	if !extract.LooksLikeVIN(vin) {
		helpers.HttpError(w, http.StatusBadRequest, fmt.Sprintf("invalid vin %q", chi.URLParam(r, "vin")))
		return "", false
	}
	return vin, true
}

func decodeFailure(w http.ResponseWriter, err error) {
	var de *report.DecodeError
	if errors.As(err, &de) && !de.Retryable {
		helpers.HttpError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.Warn("vehicle lookup failed", "err", err)
	helpers.HttpError(w, http.StatusBadGateway, err.Error())
}
