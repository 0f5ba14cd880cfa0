package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"sort"

	"github.com/RaikyD/vin-report-service/internal/domain"
)

//go:embed templates/report.html
var templateFS embed.FS

var reportTemplate = template.Must(
	template.New("report.html").
		Funcs(template.FuncMap{"marketRows": marketRows}).
		ParseFS(templateFS, "templates/report.html"),
)

type row struct {
	Label string
	Value string
}

type htmlView struct {
	*domain.VehicleReport
	Rows []row
}

// RenderHTML renders the report body handed to the PDF renderer.
func RenderHTML(r *domain.VehicleReport) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, htmlView{VehicleReport: r, Rows: vehicleRows(r.Vehicle)}); err != nil {
		return nil, fmt.Errorf("render report html: %w", err)
	}
	return buf.Bytes(), nil
}

func vehicleRows(v domain.Vehicle) []row {
	fields := []struct {
		label string
		value *string
	}{
		{"Marke", v.Make},
		{"Modell", v.Model},
		{"Modelljahr", v.Year},
		{"Karosserie", v.Body},
		{"Kraftstoff", v.Fuel},
		{"Getriebe", v.Transmission},
		{"Hersteller", v.Manufacturer},
		{"Baureihe", v.Series},
		{"Ausstattung", v.Trim},
		{"Fahrzeugart", v.ProductType},
		{"Produktionsland", v.PlantCountry},
		{"Motorcode", v.EngineCode},
		{"Hubraum (ccm)", v.EngineDisplacement},
		{"Zylinder", v.EngineCylinders},
		{"Leistung (kW)", v.EnginePowerKW},
		{"Leistung (PS)", v.EnginePowerHP},
		{"Abgasnorm", v.EmissionStandard},
		{"Antrieb", v.Drive},
		{"Türen", v.Doors},
		{"Sitze", v.Seats},
		{"Länge (mm)", v.Length},
		{"Breite (mm)", v.Width},
		{"Höhe (mm)", v.Height},
		{"Radstand (mm)", v.Wheelbase},
		{"Leergewicht (kg)", v.WeightEmpty},
		{"Zul. Gesamtgewicht (kg)", v.MaxWeight},
		{"Bremsen vorne", v.FrontBrakes},
		{"Bremsen hinten", v.RearBrakes},
		{"Fahrwerk", v.Suspension},
	}

	rows := make([]row, 0, len(fields))
	for _, f := range fields {
		if f.value != nil {
			rows = append(rows, row{Label: f.label, Value: *f.value})
		}
	}
	return rows
}

// marketRows flattens market data one level deep for display.
func marketRows(data any) []row {
	m, ok := data.(map[string]any)
	if !ok {
		return []row{{Label: "Wert", Value: fmt.Sprint(data)}}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]row, 0, len(keys))
	for _, k := range keys {
		var value string
		switch t := m[k].(type) {
		case map[string]any, []any:
			b, _ := json.Marshal(t)
			value = string(b)
		default:
			value = textOf(t)
			if value == "" {
				value = fmt.Sprint(t)
			}
		}
		rows = append(rows, row{Label: k, Value: value})
	}
	return rows
}
