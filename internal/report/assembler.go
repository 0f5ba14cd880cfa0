// Package report turns VIN provider responses into a normalized
// VehicleReport and renders its HTML body.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/extract"
	"github.com/RaikyD/vin-report-service/internal/vindecoder"
)

const maxDiagnosticBody = 2000

// Fetcher is the part of the provider client the assembler needs.
type Fetcher interface {
	Fetch(ctx context.Context, vin string, action vindecoder.Action) vindecoder.Response
}

// DecodeError means the mandatory decode call produced no vehicle identity.
type DecodeError struct {
	Status    int
	Body      string
	Retryable bool
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode_failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("decode_failed: status %d: %s", e.Status, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type Assembler struct {
	fetcher Fetcher
	now     func() time.Time
}

func NewAssembler(f Fetcher) *Assembler {
	return &Assembler{fetcher: f, now: time.Now}
}

// Build fetches decode data (mandatory) and then the stolen and market-value
// checks concurrently (best-effort).
func (a *Assembler) Build(ctx context.Context, vin string) (*domain.VehicleReport, error) {
	vin = extract.NormalizeVIN(vin)

	vehicle, err := a.decode(ctx, vin)
	if err != nil {
		return nil, err
	}

	var (
		stolen vindecoder.Response
		market vindecoder.Response
	)
	var g errgroup.Group
	g.Go(func() error {
		stolen = a.fetcher.Fetch(ctx, vin, vindecoder.ActionStolenCheck)
		return nil
	})
	g.Go(func() error {
		market = a.fetcher.Fetch(ctx, vin, vindecoder.ActionMarketValue)
		return nil
	})
	_ = g.Wait()

	now := a.now().UTC()
	return &domain.VehicleReport{
		VIN:         vin,
		ReportID:    ReportID(vin, now),
		GeneratedAt: now,
		Vehicle:     vehicle,
		Checks: domain.Checks{
			Stolen:      SummarizeStolen(stolen),
			MarketValue: SummarizeMarketValue(market),
		},
	}, nil
}

// Preview returns the reduced vehicle summary from the decode call only.
func (a *Assembler) Preview(ctx context.Context, vin string) (*domain.VehicleSummary, error) {
	vin = extract.NormalizeVIN(vin)
	v, err := a.decode(ctx, vin)
	if err != nil {
		return nil, err
	}
	return &domain.VehicleSummary{
		VIN:          vin,
		Make:         v.Make,
		Model:        v.Model,
		Year:         v.Year,
		Body:         v.Body,
		Fuel:         v.Fuel,
		Manufacturer: v.Manufacturer,
	}, nil
}

func (a *Assembler) decode(ctx context.Context, vin string) (domain.Vehicle, error) {
	res := a.fetcher.Fetch(ctx, vin, vindecoder.ActionDecode)
	raw, present := res.JSON["decode"]
	if !res.OK || !present || isEmpty(raw) {
		return domain.Vehicle{}, &DecodeError{
			Status:    res.Status,
			Body:      diagnosticBody(res.JSON),
			Retryable: res.Retryable(),
			Err:       res.Err,
		}
	}
	return MapVehicle(raw), nil
}

func diagnosticBody(body map[string]any) string {
	b, err := json.Marshal(StripSensitive(body))
	if err != nil {
		return ""
	}
	if len(b) > maxDiagnosticBody {
		b = b[:maxDiagnosticBody]
	}
	return string(b)
}
