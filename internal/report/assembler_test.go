package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/vindecoder"
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[vindecoder.Action]vindecoder.Response
	calls     []vindecoder.Action
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, action vindecoder.Action) vindecoder.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
	if res, ok := f.responses[action]; ok {
		return res
	}
	return vindecoder.Response{Status: 500, JSON: map[string]any{}}
}

func decodeOK() vindecoder.Response {
	return vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{
		"balance": map[string]any{"API Decode": 12.0},
		"price":   0.5,
		"decode": []any{
			map[string]any{"label": "Make", "value": "BMW"},
			map[string]any{"label": "Model", "value": "3 Series"},
			map[string]any{"label": "Model Year", "value": 2005.0},
			map[string]any{"label": "Fuel Type - Primary", "value": "Diesel"},
			map[string]any{"label": "Number of Doors", "value": 4.0},
			map[string]any{"label": "Unknown Label", "value": "ignored"},
		},
	}}
}

func fixedAssembler(f Fetcher) *Assembler {
	a := NewAssembler(f)
	a.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return a
}

func TestBuildFullReport(t *testing.T) {
	f := &fakeFetcher{responses: map[vindecoder.Action]vindecoder.Response{
		vindecoder.ActionDecode: decodeOK(),
		vindecoder.ActionStolenCheck: {OK: true, Status: 200, JSON: map[string]any{
			"stolen": []any{
				map[string]any{"source": "EUCARIS", "status": "not-stolen"},
				map[string]any{"source": "PL", "status": "Stolen", "price": 1.0},
			},
		}},
		vindecoder.ActionMarketValue: {OK: true, Status: 200, JSON: map[string]any{
			"price_currency":       "EUR",
			"vehicle-market-value": map[string]any{"median": 5400.0, "balance": 3.0},
		}},
	}}

	r, err := fixedAssembler(f).Build(context.Background(), "wbava12345ab67890")
	require.NoError(t, err)

	assert.Equal(t, "WBAVA12345AB67890", r.VIN)
	assert.Equal(t, ReportID("WBAVA12345AB67890", time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)), r.ReportID)
	require.NotNil(t, r.Vehicle.Make)
	assert.Equal(t, "BMW", *r.Vehicle.Make)
	assert.Equal(t, "2005", *r.Vehicle.Year)
	assert.Equal(t, "Diesel", *r.Vehicle.Fuel)
	assert.Equal(t, "4", *r.Vehicle.Doors)
	assert.Nil(t, r.Vehicle.Transmission)

	assert.True(t, r.Checks.Stolen.Available)
	assert.Equal(t, domain.StolenStatusStolen, r.Checks.Stolen.Status)
	require.Len(t, r.Checks.Stolen.Details, 2)
	assert.NotContains(t, r.Checks.Stolen.Details[1], "price")

	assert.True(t, r.Checks.MarketValue.Available)
	assert.Equal(t, map[string]any{"median": 5400.0}, r.Checks.MarketValue.Data)

	assert.Equal(t, vindecoder.ActionDecode, f.calls[0], "decode runs before the premium checks")
}

func TestBuildStolenCheckUnavailable(t *testing.T) {
	f := &fakeFetcher{responses: map[vindecoder.Action]vindecoder.Response{
		vindecoder.ActionDecode:      decodeOK(),
		vindecoder.ActionStolenCheck: {Status: 0, JSON: map[string]any{}, Err: errors.New("connection reset")},
		vindecoder.ActionMarketValue: {OK: true, Status: 200, JSON: map[string]any{}},
	}}

	r, err := fixedAssembler(f).Build(context.Background(), "WBAVA12345AB67890")
	require.NoError(t, err)

	assert.False(t, r.Checks.Stolen.Available)
	assert.Equal(t, "unavailable", r.Checks.Stolen.Status)
	assert.NotNil(t, r.Checks.Stolen.Details)
	assert.Equal(t, "BMW", *r.Vehicle.Make)
	assert.Equal(t, "3 Series", *r.Vehicle.Model)

	assert.False(t, r.Checks.MarketValue.Available)
	assert.NotEmpty(t, r.Checks.MarketValue.Reason)
}

func TestBuildDecodeFailure(t *testing.T) {
	tests := []struct {
		name      string
		res       vindecoder.Response
		retryable bool
	}{
		{"server error", vindecoder.Response{Status: 503, JSON: map[string]any{}}, true},
		{"not found", vindecoder.Response{Status: 404, JSON: map[string]any{"error": "unknown vin", "balance": 1.0}}, false},
		{"missing decode key", vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{"message": "x"}}, false},
		{"empty decode", vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{"decode": []any{}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{responses: map[vindecoder.Action]vindecoder.Response{vindecoder.ActionDecode: tt.res}}

			_, err := fixedAssembler(f).Build(context.Background(), "WBAVA12345AB67890")
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.retryable, de.Retryable)
			assert.NotContains(t, de.Body, "balance")
			assert.Equal(t, []vindecoder.Action{vindecoder.ActionDecode}, f.calls, "no premium calls after a failed decode")
		})
	}
}

func TestPreview(t *testing.T) {
	f := &fakeFetcher{responses: map[vindecoder.Action]vindecoder.Response{vindecoder.ActionDecode: decodeOK()}}

	s, err := fixedAssembler(f).Preview(context.Background(), "WBAVA12345AB67890")
	require.NoError(t, err)
	assert.Equal(t, "BMW", *s.Make)
	assert.Nil(t, s.Body)
	assert.Len(t, f.calls, 1)
}

func TestSummarizeStolen(t *testing.T) {
	ok := func(v any) vindecoder.Response {
		return vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{"stolen": v}}
	}
	assert.Equal(t, domain.StolenStatusUnknown, SummarizeStolen(ok([]any{})).Status)
	assert.Equal(t, domain.StolenStatusNotStolen, SummarizeStolen(ok([]any{map[string]any{"status": "clear"}})).Status)
	assert.Equal(t, domain.StolenStatusStolen, SummarizeStolen(ok(map[string]any{"status": " STOLEN "})).Status)

	missing := SummarizeStolen(vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{}})
	assert.False(t, missing.Available)
}

func TestSummarizeMarketValueErrorFlag(t *testing.T) {
	mv := SummarizeMarketValue(vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{"error": true, "message": "no data"}})
	assert.False(t, mv.Available)
	assert.Equal(t, "no data", mv.Reason)

	mv = SummarizeMarketValue(vindecoder.Response{OK: true, Status: 200, JSON: map[string]any{"error": false, "avg": 1.0}})
	assert.True(t, mv.Available)
}

func TestStripSensitiveIsDeep(t *testing.T) {
	in := map[string]any{
		"balance": 1.0,
		"nested":  []any{map[string]any{"Price": 2.0, "keep": "x", "price_currency": "EUR"}},
	}
	out := StripSensitive(in)
	assert.Equal(t, map[string]any{"nested": []any{map[string]any{"keep": "x"}}}, out)
	assert.Contains(t, in, "balance", "input is not mutated")
}

func TestReportIDIsDeterministicPerDay(t *testing.T) {
	morning := time.Date(2026, 10, 15, 0, 0, 1, 0, time.UTC)
	evening := time.Date(2026, 10, 15, 23, 59, 59, 0, time.UTC)
	next := morning.Add(24 * time.Hour)

	id := ReportID("WBAVA12345AB67890", morning)
	assert.Equal(t, id, ReportID("WBAVA12345AB67890", evening))
	assert.NotEqual(t, id, ReportID("WBAVA12345AB67890", next))
	assert.Regexp(t, `^VR-20261015-[0-9A-F]{12}$`, id)

	seen := make(map[string]string)
	for i := 0; i < 2000; i++ {
		vin := fmt.Sprintf("WBA%014d", i)
		for d := 0; d < 3; d++ {
			key := fmt.Sprintf("%s/%d", vin, d)
			rid := ReportID(vin, morning.AddDate(0, 0, d))
			prev, dup := seen[rid]
			require.False(t, dup, "collision between %s and %s", prev, key)
			seen[rid] = key
		}
	}
}

func TestRenderHTML(t *testing.T) {
	f := &fakeFetcher{responses: map[vindecoder.Action]vindecoder.Response{
		vindecoder.ActionDecode:      decodeOK(),
		vindecoder.ActionMarketValue: {OK: true, Status: 200, JSON: map[string]any{"market_value": map[string]any{"median": 5400.0}}},
	}}
	r, err := fixedAssembler(f).Build(context.Background(), "WBAVA12345AB67890")
	require.NoError(t, err)

	html, err := RenderHTML(r)
	require.NoError(t, err)
	assert.Contains(t, string(html), "WBAVA12345AB67890")
	assert.Contains(t, string(html), r.ReportID)
	assert.Contains(t, string(html), "BMW")
	assert.Contains(t, string(html), "5400")
	assert.Contains(t, string(html), "unavailable")
}
