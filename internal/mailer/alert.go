package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RaikyD/vin-report-service/internal/logger"
	"github.com/RaikyD/vin-report-service/internal/metrics"
)

const DefaultPayloadLimit = 20_000

// Alert reasons.
const (
	ReasonManualCheck  = "needs_manual_check"
	ReasonDecodeFailed = "decode_failed"
	ReasonRenderFailed = "render_failed"
	ReasonDeliveryFail = "delivery_failed"
	ReasonStoreFailed  = "dedupe_store_failed"
	ReasonPanic        = "unexpected_error"
)

// Alert carries everything an operator needs to finish an order by hand.
type Alert struct {
	Reason   string
	OrderKey string
	VIN      string
	Email    string
	ReportID string
	Detail   string
	// Extraction is rendered as JSON when set.
	Extraction any
	Payload    []byte
}

// Alerter mails operator alerts. With no recipient configured alerts are
// only logged.
type Alerter struct {
	mailer       Mailer
	to           string
	payloadLimit int
}

func NewAlerter(m Mailer, to string, payloadLimit int) *Alerter {
	if payloadLimit <= 0 {
		payloadLimit = DefaultPayloadLimit
	}
	return &Alerter{mailer: m, to: to, payloadLimit: payloadLimit}
}

// Send never returns an error: a failed alert is logged, and the calling
// pipeline carries on to its terminal state.
func (a *Alerter) Send(ctx context.Context, alert Alert) {
	metrics.AlertsTotal.WithLabelValues(alert.Reason).Inc()
	logger.Warn("operator alert",
		"reason", alert.Reason,
		"order_key", alert.OrderKey,
		"vin", alert.VIN,
		"email", alert.Email,
		"report_id", alert.ReportID,
		"detail", alert.Detail,
	)
	if a.to == "" {
		return
	}

	msg := Message{
		To:      []string{a.to},
		Subject: fmt.Sprintf("[vin-report] %s: order %s", alert.Reason, alert.OrderKey),
		Text:    a.body(alert),
	}
	if err := a.mailer.Send(ctx, msg); err != nil {
		logger.Error("operator alert could not be sent", "reason", alert.Reason, "order_key", alert.OrderKey, "err", err)
	}
}

func (a *Alerter) body(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reason:    %s\n", alert.Reason)
	fmt.Fprintf(&b, "Order key: %s\n", alert.OrderKey)
	fmt.Fprintf(&b, "VIN:       %s\n", orDash(alert.VIN))
	fmt.Fprintf(&b, "Email:     %s\n", orDash(alert.Email))
	fmt.Fprintf(&b, "Report ID: %s\n", orDash(alert.ReportID))
	if alert.Detail != "" {
		fmt.Fprintf(&b, "\nDetail:\n%s\n", alert.Detail)
	}
	if alert.Extraction != nil {
		if js, err := json.MarshalIndent(alert.Extraction, "", "  "); err == nil {
			fmt.Fprintf(&b, "\nExtraction result:\n%s\n", js)
		}
	}
	if len(alert.Payload) > 0 {
		payload := alert.Payload
		truncated := false
		if len(payload) > a.payloadLimit {
			payload = payload[:a.payloadLimit]
			truncated = true
		}
		fmt.Fprintf(&b, "\nRaw payload (%d bytes", len(alert.Payload))
		if truncated {
			fmt.Fprintf(&b, ", first %d shown", a.payloadLimit)
		}
		fmt.Fprintf(&b, "):\n%s\n", payload)
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
