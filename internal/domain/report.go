package domain

import "time"

// Stolen-check summary statuses.
const (
	StolenStatusStolen      = "stolen"
	StolenStatusNotStolen   = "not-stolen"
	StolenStatusUnknown     = "unknown"
	StolenStatusUnavailable = "unavailable"
)

type VehicleReport struct {
	VIN         string    `json:"vin"`
	ReportID    string    `json:"report_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Vehicle     Vehicle   `json:"vehicle"`
	Checks      Checks    `json:"checks"`
}

// Vehicle holds decoded attributes. Absent attributes stay nil and encode
// as JSON null.
type Vehicle struct {
	Make         *string `json:"make"`
	Model        *string `json:"model"`
	Year         *string `json:"year"`
	Body         *string `json:"body"`
	Fuel         *string `json:"fuel"`
	Transmission *string `json:"transmission"`
	Manufacturer *string `json:"manufacturer"`
	Series       *string `json:"series"`
	Trim         *string `json:"trim"`
	ProductType  *string `json:"product_type"`
	PlantCountry *string `json:"plant_country"`

	EngineCode         *string `json:"engine_code"`
	EngineDisplacement *string `json:"engine_displacement_ccm"`
	EngineCylinders    *string `json:"engine_cylinders"`
	EnginePowerKW      *string `json:"engine_power_kw"`
	EnginePowerHP      *string `json:"engine_power_hp"`
	EmissionStandard   *string `json:"emission_standard"`
	Drive              *string `json:"drive"`

	Doors     *string `json:"doors"`
	Seats     *string `json:"seats"`
	Length    *string `json:"length_mm"`
	Width     *string `json:"width_mm"`
	Height    *string `json:"height_mm"`
	Wheelbase *string `json:"wheelbase_mm"`

	WeightEmpty *string `json:"weight_empty_kg"`
	MaxWeight   *string `json:"max_weight_kg"`

	FrontBrakes *string `json:"front_brakes"`
	RearBrakes  *string `json:"rear_brakes"`
	Suspension  *string `json:"suspension"`
}

type Checks struct {
	Stolen      StolenCheck `json:"stolen"`
	MarketValue MarketValue `json:"market_value"`
}

type StolenCheck struct {
	Available bool             `json:"available"`
	Status    string           `json:"status"`
	Details   []map[string]any `json:"details"`
}

type MarketValue struct {
	Available bool   `json:"available"`
	Data      any    `json:"data,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// VehicleSummary is the reduced preview returned without premium checks.
type VehicleSummary struct {
	VIN          string  `json:"vin"`
	Make         *string `json:"make"`
	Model        *string `json:"model"`
	Year         *string `json:"year"`
	Body         *string `json:"body"`
	Fuel         *string `json:"fuel"`
	Manufacturer *string `json:"manufacturer"`
}
