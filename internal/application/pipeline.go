package application

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RaikyD/vin-report-service/internal/dedupe"
	"github.com/RaikyD/vin-report-service/internal/delivery"
	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/extract"
	"github.com/RaikyD/vin-report-service/internal/logger"
	"github.com/RaikyD/vin-report-service/internal/mailer"
	"github.com/RaikyD/vin-report-service/internal/metrics"
	"github.com/RaikyD/vin-report-service/internal/render"
	"github.com/RaikyD/vin-report-service/internal/report"
)

var (
	ErrInvalidResend = errors.New("resend needs a valid vin and email")
	ErrNoJournal     = errors.New("delivery journal is not configured")
	ErrNotFound      = errors.New("order not found")
)

// ReasonEmailDisabled is set on sent outcomes when mail only went to the log.
const ReasonEmailDisabled = "email sending disabled"

// ReportBuilder is the part of report.Assembler the pipeline uses.
type ReportBuilder interface {
	Build(ctx context.Context, vin string) (*domain.VehicleReport, error)
	Preview(ctx context.Context, vin string) (*domain.VehicleSummary, error)
}

type Alerter interface {
	Send(ctx context.Context, alert mailer.Alert)
}

// Journal persists the terminal outcome per order key.
type Journal interface {
	Record(ctx context.Context, rec domain.DeliveryRecord) error
	GetByOrderKey(ctx context.Context, orderKey string) (*domain.DeliveryRecord, error)
}

type EventPublisher interface {
	PublishOutcome(ctx context.Context, ev domain.DeliveryEvent) error
}

type Options struct {
	Secret        string
	DedupeTTL     time.Duration
	PDFEnabled    bool
	MaxConcurrent int64
	// EmailDisabled marks deliveries that only went to the log mailer.
	EmailDisabled bool

	PipelineTimeout time.Duration
	DecodeTimeout   time.Duration
	RenderTimeout   time.Duration
	MailTimeout     time.Duration
}

func (o *Options) setDefaults() {
	if o.DedupeTTL <= 0 {
		o.DedupeTTL = 24 * time.Hour
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.PipelineTimeout <= 0 {
		o.PipelineTimeout = 28 * time.Second
	}
	if o.DecodeTimeout <= 0 {
		o.DecodeTimeout = 15 * time.Second
	}
	if o.RenderTimeout <= 0 {
		o.RenderTimeout = 20 * time.Second
	}
	if o.MailTimeout <= 0 {
		o.MailTimeout = 15 * time.Second
	}
}

// Deps are the collaborators of a Pipeline. Journal and Events are optional.
type Deps struct {
	Store     dedupe.Store
	Reports   ReportBuilder
	Renderer  render.Renderer
	Deliverer delivery.Deliverer
	Alerter   Alerter
	Journal   Journal
	Events    EventPublisher
}

// Pipeline turns an order webhook into a delivered report. Every run ends in
// exactly one terminal outcome.
type Pipeline struct {
	opts Options
	deps Deps
	lock *dedupe.KeyedLock
	sem  *semaphore.Weighted
	now  func() time.Time
}

func NewPipeline(deps Deps, opts Options) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		opts: opts,
		deps: deps,
		lock: dedupe.NewKeyedLock(),
		sem:  semaphore.NewWeighted(opts.MaxConcurrent),
		now:  time.Now,
	}
}

// Authorize checks the caller's shared secret. With no secret configured
// every caller is accepted.
func (p *Pipeline) Authorize(provided string) bool {
	if p.opts.Secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(p.opts.Secret)) == 1
}

// Process runs one webhook body to a terminal outcome. The caller's
// cancellation is ignored; the run is bounded by PipelineTimeout.
func (p *Pipeline) Process(ctx context.Context, body []byte) domain.Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PipelineTimeout)
	defer cancel()

	fields, parseErr := extract.ExtractJSON(body)
	out := domain.Outcome{OrderKey: fields.OrderKey, VIN: fields.VIN, Email: fields.Email}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return p.count(p.busy(out, "pipeline capacity exhausted"))
	}
	defer p.sem.Release(1)

	unlock, err := p.lock.Lock(ctx, fields.OrderKey)
	if err != nil {
		return p.count(p.busy(out, "order is already being processed"))
	}
	defer unlock()

	seen, err := p.deps.Store.Has(ctx, fields.OrderKey)
	if err != nil {
		out = fail(out, true, err.Error())
		p.alert(ctx, mailer.Alert{Reason: mailer.ReasonStoreFailed, Detail: err.Error()}, out, body)
		return p.finalize(ctx, out, false)
	}
	if seen {
		logger.Info("duplicate order ignored", "order_key", fields.OrderKey)
		out.Success = true
		out.Status = domain.StatusDuplicate
		return p.count(out)
	}

	if parseErr != nil || !fields.Complete() {
		return p.manualReview(ctx, out, fields, parseErr, body)
	}
	if fields.Generated() {
		logger.Warn("order key synthesized, duplicates of this order cannot be detected", "order_key", fields.OrderKey)
	}

	var r *domain.VehicleReport
	err = p.stage(ctx, "report", p.opts.DecodeTimeout, func(ctx context.Context) error {
		var err error
		r, err = p.deps.Reports.Build(ctx, fields.VIN)
		return err
	})
	if err != nil {
		retryable := true
		var de *report.DecodeError
		if errors.As(err, &de) {
			retryable = de.Retryable
		}
		out = fail(out, retryable, err.Error())
		p.alert(ctx, mailer.Alert{Reason: mailer.ReasonDecodeFailed, Detail: err.Error()}, out, nil)
		return p.finalize(ctx, out, !retryable)
	}
	out.ReportID = r.ReportID

	if !p.opts.PDFEnabled {
		out.Success = true
		out.Status = domain.StatusPDFDisabled
		out.Report = r
		return p.finalize(ctx, out, true)
	}

	pdf, err := p.renderPDF(ctx, r)
	if err != nil {
		out = fail(out, true, err.Error())
		p.alert(ctx, mailer.Alert{Reason: mailer.ReasonRenderFailed, Detail: err.Error()}, out, nil)
		return p.finalize(ctx, out, false)
	}

	err = p.stage(ctx, "deliver", p.opts.MailTimeout, func(ctx context.Context) error {
		return p.deps.Deliverer.Deliver(ctx, r, pdf, fields.Email)
	})
	if err != nil {
		out = fail(out, true, err.Error())
		p.alert(ctx, mailer.Alert{Reason: mailer.ReasonDeliveryFail, Detail: err.Error()}, out, nil)
		return p.finalize(ctx, out, false)
	}

	logger.Info("report delivered", "order_key", out.OrderKey, "vin", out.VIN, "report_id", out.ReportID)
	return p.finalize(ctx, p.sent(out), true)
}

func (p *Pipeline) manualReview(ctx context.Context, out domain.Outcome, fields extract.Fields, parseErr error, body []byte) domain.Outcome {
	detail := "vin or email could not be extracted"
	if parseErr != nil {
		detail = "payload is not valid JSON: " + parseErr.Error()
	}
	out.Status = domain.StatusManualCheck
	out.Reason = detail
	p.alert(ctx, mailer.Alert{Reason: mailer.ReasonManualCheck, Detail: detail, Extraction: fields}, out, body)
	return p.finalize(ctx, out, true)
}

// renderPDF renders once and retries a failed render a single time.
func (p *Pipeline) renderPDF(ctx context.Context, r *domain.VehicleReport) ([]byte, error) {
	html, err := report.RenderHTML(r)
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", render.ErrRender, err)
	}
	var pdf []byte
	for attempt := 1; attempt <= 2; attempt++ {
		err = p.stage(ctx, "render", p.opts.RenderTimeout, func(ctx context.Context) error {
			var err error
			pdf, err = p.deps.Renderer.Render(ctx, html)
			return err
		})
		if err == nil {
			return pdf, nil
		}
		logger.Warn("pdf render failed", "report_id", r.ReportID, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

// Resend rebuilds and delivers a report for an operator-supplied VIN and
// email. Dedupe is bypassed and failures are returned, not alerted.
func (p *Pipeline) Resend(ctx context.Context, cmd domain.ResendCommand) (domain.Outcome, error) {
	vin := extract.NormalizeVIN(cmd.VIN)
	if !extract.LooksLikeVIN(vin) || cmd.Email == "" {
		return domain.Outcome{}, ErrInvalidResend
	}
	key := cmd.OrderKey
	if key == "" {
		key = extract.FallbackOrderKey()
	}
	out := domain.Outcome{OrderKey: key, VIN: vin, Email: cmd.Email}

	ctx, cancel := context.WithTimeout(ctx, p.opts.PipelineTimeout)
	defer cancel()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fail(out, true, "pipeline capacity exhausted"), err
	}
	defer p.sem.Release(1)

	var r *domain.VehicleReport
	err := p.stage(ctx, "report", p.opts.DecodeTimeout, func(ctx context.Context) error {
		var err error
		r, err = p.deps.Reports.Build(ctx, vin)
		return err
	})
	if err != nil {
		return fail(out, true, err.Error()), err
	}
	out.ReportID = r.ReportID

	pdf, err := p.renderPDF(ctx, r)
	if err != nil {
		return fail(out, true, err.Error()), err
	}
	err = p.stage(ctx, "deliver", p.opts.MailTimeout, func(ctx context.Context) error {
		return p.deps.Deliverer.Deliver(ctx, r, pdf, cmd.Email)
	})
	if err != nil {
		return fail(out, true, err.Error()), err
	}

	logger.Info("report resent", "order_key", key, "vin", vin, "report_id", r.ReportID)
	out = p.sent(out)
	p.record(ctx, out)
	return out, nil
}

// Report returns the full report without rendering or mailing it.
func (p *Pipeline) Report(ctx context.Context, vin string) (*domain.VehicleReport, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DecodeTimeout)
	defer cancel()
	return p.deps.Reports.Build(ctx, vin)
}

func (p *Pipeline) Preview(ctx context.Context, vin string) (*domain.VehicleSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.DecodeTimeout)
	defer cancel()
	return p.deps.Reports.Preview(ctx, vin)
}

// Lookup reads an order's journal entry.
func (p *Pipeline) Lookup(ctx context.Context, orderKey string) (*domain.DeliveryRecord, error) {
	if p.deps.Journal == nil {
		return nil, ErrNoJournal
	}
	rec, err := p.deps.Journal.GetByOrderKey(ctx, orderKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ReportPanic alerts the operator about a run that panicked. The order key
// is re-extracted from the raw body for context.
func (p *Pipeline) ReportPanic(ctx context.Context, body []byte, rec any, stack []byte) {
	fields, _ := extract.ExtractJSON(body)
	out := domain.Outcome{OrderKey: fields.OrderKey, VIN: fields.VIN, Email: fields.Email, Status: domain.StatusFailed}
	detail := fmt.Sprintf("panic: %v\n\n%s", rec, stack)
	p.alert(ctx, mailer.Alert{Reason: mailer.ReasonPanic, Detail: detail, Extraction: fields}, out, body)
	metrics.WebhooksTotal.WithLabelValues(string(domain.StatusFailed)).Inc()
}

// finalize marks the order key when the outcome is terminal, then records it.
func (p *Pipeline) finalize(ctx context.Context, out domain.Outcome, mark bool) domain.Outcome {
	if mark {
		if err := p.deps.Store.MarkProcessed(ctx, out.OrderKey, p.opts.DedupeTTL); err != nil {
			logger.Error("dedupe mark failed", "order_key", out.OrderKey, "err", err)
		}
	}
	p.record(ctx, out)
	return p.count(out)
}

func (p *Pipeline) sent(out domain.Outcome) domain.Outcome {
	out.Success = true
	out.Status = domain.StatusSent
	if p.opts.EmailDisabled {
		out.Reason = ReasonEmailDisabled
		logger.Warn("email sending disabled, buyer received nothing", "order_key", out.OrderKey, "vin", out.VIN)
	}
	return out
}

func (p *Pipeline) record(ctx context.Context, out domain.Outcome) {
	ctx = context.WithoutCancel(ctx)
	now := p.now().UTC()

	if p.deps.Journal != nil {
		rec := domain.DeliveryRecord{
			OrderKey:  out.OrderKey,
			Status:    out.Status,
			VIN:       out.VIN,
			Email:     out.Email,
			ReportID:  out.ReportID,
			Reason:    out.Reason,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := p.deps.Journal.Record(ctx, rec); err != nil {
			logger.Warn("journal write failed", "order_key", out.OrderKey, "err", err)
		}
	}
	if p.deps.Events != nil {
		ev := domain.DeliveryEvent{
			OrderKey:   out.OrderKey,
			Status:     out.Status,
			VIN:        out.VIN,
			Email:      out.Email,
			ReportID:   out.ReportID,
			Reason:     out.Reason,
			OccurredAt: now,
		}
		if err := p.deps.Events.PublishOutcome(ctx, ev); err != nil {
			logger.Warn("outcome event not published", "order_key", out.OrderKey, "err", err)
		}
	}
}

func (p *Pipeline) count(out domain.Outcome) domain.Outcome {
	metrics.WebhooksTotal.WithLabelValues(string(out.Status)).Inc()
	return out
}

func (p *Pipeline) alert(ctx context.Context, a mailer.Alert, out domain.Outcome, body []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.MailTimeout)
	defer cancel()
	a.OrderKey = out.OrderKey
	a.VIN = out.VIN
	a.Email = out.Email
	a.ReportID = out.ReportID
	a.Payload = body
	p.deps.Alerter.Send(ctx, a)
}

func (p *Pipeline) stage(ctx context.Context, name string, d time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(sctx)
	metrics.ObserveStage(name, start)
	return err
}

func (p *Pipeline) busy(out domain.Outcome, reason string) domain.Outcome {
	logger.Warn("webhook rejected", "order_key", out.OrderKey, "reason", reason)
	return fail(out, true, reason)
}

func fail(out domain.Outcome, retryable bool, reason string) domain.Outcome {
	out.Success = false
	out.Status = domain.StatusFailed
	out.Reason = reason
	out.Retryable = retryable
	return out
}
