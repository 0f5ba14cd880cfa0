package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/RaikyD/vin-report-service/internal/domain"
	"github.com/RaikyD/vin-report-service/internal/vindecoder"
)

// Keys removed from every provider payload embedded in a report.
var sensitiveKeys = map[string]struct{}{
	"balance":        {},
	"price":          {},
	"price_currency": {},
}

var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("vin-report-service/report-id"))

// ReportID derives the report identifier from the VIN and the UTC calendar
// day of t.
func ReportID(vin string, t time.Time) string {
	day := t.UTC()
	id := uuid.NewSHA1(reportNamespace, []byte(vin+"|"+day.Format("2006-01-02")))
	digest := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return "VR-" + day.Format("20060102") + "-" + digest[:12]
}

var vehicleFields = map[string]func(v *domain.Vehicle) **string{
	"make":                      func(v *domain.Vehicle) **string { return &v.Make },
	"model":                     func(v *domain.Vehicle) **string { return &v.Model },
	"model year":                func(v *domain.Vehicle) **string { return &v.Year },
	"body":                      func(v *domain.Vehicle) **string { return &v.Body },
	"fuel type - primary":       func(v *domain.Vehicle) **string { return &v.Fuel },
	"fuel type":                 func(v *domain.Vehicle) **string { return &v.Fuel },
	"transmission":              func(v *domain.Vehicle) **string { return &v.Transmission },
	"manufacturer":              func(v *domain.Vehicle) **string { return &v.Manufacturer },
	"series":                    func(v *domain.Vehicle) **string { return &v.Series },
	"trim":                      func(v *domain.Vehicle) **string { return &v.Trim },
	"product type":              func(v *domain.Vehicle) **string { return &v.ProductType },
	"plant country":             func(v *domain.Vehicle) **string { return &v.PlantCountry },
	"engine code":               func(v *domain.Vehicle) **string { return &v.EngineCode },
	"engine displacement (ccm)": func(v *domain.Vehicle) **string { return &v.EngineDisplacement },
	"engine cylinders":          func(v *domain.Vehicle) **string { return &v.EngineCylinders },
	"engine power (kw)":         func(v *domain.Vehicle) **string { return &v.EnginePowerKW },
	"engine power (hp)":         func(v *domain.Vehicle) **string { return &v.EnginePowerHP },
	"emission standard":         func(v *domain.Vehicle) **string { return &v.EmissionStandard },
	"drive":                     func(v *domain.Vehicle) **string { return &v.Drive },
	"number of doors":           func(v *domain.Vehicle) **string { return &v.Doors },
	"number of seats":           func(v *domain.Vehicle) **string { return &v.Seats },
	"length (mm)":               func(v *domain.Vehicle) **string { return &v.Length },
	"width (mm)":                func(v *domain.Vehicle) **string { return &v.Width },
	"height (mm)":               func(v *domain.Vehicle) **string { return &v.Height },
	"wheelbase (mm)":            func(v *domain.Vehicle) **string { return &v.Wheelbase },
	"weight empty (kg)":         func(v *domain.Vehicle) **string { return &v.WeightEmpty },
	"max weight (kg)":           func(v *domain.Vehicle) **string { return &v.MaxWeight },
	"front brakes":              func(v *domain.Vehicle) **string { return &v.FrontBrakes },
	"rear brakes":               func(v *domain.Vehicle) **string { return &v.RearBrakes },
	"suspension":                func(v *domain.Vehicle) **string { return &v.Suspension },
}

// MapVehicle maps the provider's decode section, either a list of
// {"label","value"} records or a flat label→value object. The first
// non-empty value per attribute wins.
func MapVehicle(raw any) domain.Vehicle {
	var v domain.Vehicle
	set := func(label string, value any) {
		field, ok := vehicleFields[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			return
		}
		s := textOf(value)
		if s == "" {
			return
		}
		if p := field(&v); *p == nil {
			*p = &s
		}
	}

	switch t := raw.(type) {
	case []any:
		for _, item := range t {
			rec, ok := item.(map[string]any)
			if !ok {
				continue
			}
			label, _ := rec["label"].(string)
			set(label, rec["value"])
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			set(k, t[k])
		}
	}
	return v
}

// SummarizeStolen reduces the stolen-check response to a status: "stolen" if
// any record says so, "not-stolen" if records exist, "unknown" otherwise.
func SummarizeStolen(res vindecoder.Response) domain.StolenCheck {
	raw, present := res.JSON["stolen"]
	if !res.OK || !present {
		return domain.StolenCheck{Available: false, Status: domain.StolenStatusUnavailable, Details: []map[string]any{}}
	}

	var records []map[string]any
	switch t := raw.(type) {
	case []any:
		for _, item := range t {
			if rec, ok := item.(map[string]any); ok {
				records = append(records, rec)
			}
		}
	case map[string]any:
		if len(t) > 0 {
			records = append(records, t)
		}
	}

	check := domain.StolenCheck{Available: true, Status: domain.StolenStatusUnknown, Details: []map[string]any{}}
	for _, rec := range records {
		check.Details = append(check.Details, StripSensitive(rec).(map[string]any))
		if check.Status != domain.StolenStatusStolen {
			check.Status = domain.StolenStatusNotStolen
		}
		if s, _ := rec["status"].(string); strings.EqualFold(strings.TrimSpace(s), domain.StolenStatusStolen) {
			check.Status = domain.StolenStatusStolen
		}
	}
	return check
}

var marketValueKeys = []string{"vehicle-market-value", "vehicle_market_value", "market_value", "marketValue"}

// SummarizeMarketValue passes market data through, or explains why none is
// available.
func SummarizeMarketValue(res vindecoder.Response) domain.MarketValue {
	if !res.OK {
		reason := fmt.Sprintf("provider returned status %d", res.Status)
		if res.Err != nil {
			reason = "provider unreachable"
		}
		return domain.MarketValue{Available: false, Reason: reason}
	}
	if msg, flagged := errorFlag(res.JSON); flagged {
		return domain.MarketValue{Available: false, Reason: msg}
	}

	var data any
	for _, k := range marketValueKeys {
		if v, ok := res.JSON[k]; ok {
			data = v
			break
		}
	}
	if data == nil {
		rest := make(map[string]any, len(res.JSON))
		for k, v := range res.JSON {
			if _, skip := sensitiveKeys[k]; !skip {
				rest[k] = v
			}
		}
		data = rest
	}
	data = StripSensitive(data)
	if isEmpty(data) {
		return domain.MarketValue{Available: false, Reason: "no market value data for this vehicle"}
	}
	return domain.MarketValue{Available: true, Data: data}
}

func errorFlag(body map[string]any) (string, bool) {
	v, ok := body["error"]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case bool:
		if !t {
			return "", false
		}
	case nil:
		return "", false
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	}
	if msg, ok := body["message"].(string); ok && msg != "" {
		return msg, true
	}
	return "provider reported an error", true
}

// StripSensitive returns a copy of v with balance and price fields removed at
// every depth.
func StripSensitive(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if _, skip := sensitiveKeys[strings.ToLower(k)]; skip {
				continue
			}
			out[k] = StripSensitive(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = StripSensitive(val)
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := textOf(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}
