// Package delivery hands a rendered report to the buyer, either as a mail
// attachment or as a hosted download link.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/mailer"
)

var ErrDelivery = errors.New("report delivery failed")

const pdfContentType = "application/pdf"

type Deliverer interface {
	Deliver(ctx context.Context, r *domain.VehicleReport, pdf []byte, recipient string) error
}

// ObjectStore keeps a file reachable over HTTP and returns its URL.
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

func FileName(r *domain.VehicleReport) string {
	return r.ReportID + ".pdf"
}

// AttachmentDeliverer mails the PDF itself.
type AttachmentDeliverer struct {
	mailer mailer.Mailer
}

func NewAttachmentDeliverer(m mailer.Mailer) *AttachmentDeliverer {
	return &AttachmentDeliverer{mailer: m}
}

func (d *AttachmentDeliverer) Deliver(ctx context.Context, r *domain.VehicleReport, pdf []byte, recipient string) error {
	msg := mailer.Message{
		To:      []string{recipient},
		Subject: subject(r),
		Text:    attachmentText(r),
		Attachments: []mailer.Attachment{{
			Name:        FileName(r),
			ContentType: pdfContentType,
			Data:        pdf,
		}},
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// LinkDeliverer uploads the PDF and mails a download link.
type LinkDeliverer struct {
	mailer  mailer.Mailer
	store   ObjectStore
	linkTTL time.Duration
}

func NewLinkDeliverer(m mailer.Mailer, store ObjectStore, linkTTL time.Duration) *LinkDeliverer {
	return &LinkDeliverer{mailer: m, store: store, linkTTL: linkTTL}
}

func (d *LinkDeliverer) Deliver(ctx context.Context, r *domain.VehicleReport, pdf []byte, recipient string) error {
	url, err := d.store.Put(ctx, FileName(r), pdf, pdfContentType)
	if err != nil {
		return fmt.Errorf("%w: store pdf: %v", ErrDelivery, err)
	}

	msg := mailer.Message{
		To:      []string{recipient},
		Subject: subject(r),
		Text:    linkText(r, url, d.linkTTL),
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

func subject(r *domain.VehicleReport) string {
	return fmt.Sprintf("Ihr Fahrzeugbericht %s (FIN %s)", r.ReportID, r.VIN)
}

func attachmentText(r *domain.VehicleReport) string {
	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	fmt.Fprintf(&b, "vielen Dank für Ihre Bestellung. Im Anhang finden Sie den Fahrzeugbericht für die FIN %s.\n\n", r.VIN)
	fmt.Fprintf(&b, "Berichtsnummer: %s\n\n", r.ReportID)
	b.WriteString("Mit freundlichen Grüßen\n")
	return b.String()
}

func linkText(r *domain.VehicleReport, url string, ttl time.Duration) string {
	var b strings.Builder
	b.WriteString("Guten Tag,\n\n")
	fmt.Fprintf(&b, "vielen Dank für Ihre Bestellung. Ihr Fahrzeugbericht für die FIN %s steht zum Download bereit:\n\n", r.VIN)
	fmt.Fprintf(&b, "%s\n\n", url)
	if ttl > 0 {
		fmt.Fprintf(&b, "Der Link ist %d Stunden gültig.\n\n", int(ttl.Hours()))
	}
	fmt.Fprintf(&b, "Berichtsnummer: %s\n\n", r.ReportID)
	b.WriteString("Mit freundlichen Grüßen\n")
	return b.String()
}
