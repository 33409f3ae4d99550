package api

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Pump represents a fuel dispenser as exposed by the backoffice.
type Pump struct {
	ID         int64  `json:"id"`
	PumpNumber int64  `json:"pump_number"`
	TankInfo   *int64 `json:"tank_info"`
}

// Nozzle represents a dispensing handle attached to a pump. Attendant and
// FuelType are nil when the nozzle has no pre-assignment.
type Nozzle struct {
	ID         int64  `json:"id"`
	NozzleName string `json:"nozzle_name"`
	Pump       int64  `json:"pump"`
	Attendant  *int64 `json:"attendant"`
	FuelType   *int64 `json:"fuel_type"`
	Processed  bool   `json:"processed"`
}

// FuelType is a category of fuel and its unit price.
type FuelType struct {
	ID    int64           `json:"id"`
	Name  string          `json:"fuel_type"`
	Price decimal.Decimal `json:"fuel_price"`
}

// Transaction is a single fuel sale as sent to the backoffice.
type Transaction struct {
	Pump      int64           `json:"pump"`
	Nozzle    int64           `json:"nozzle"`
	Attendant string          `json:"attendant"`
	FuelType  int64           `json:"fuel_type"`
	Volume    decimal.Decimal `json:"volume"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// FieldNaming selects the JSON field names used when posting transactions.
type FieldNaming string

const (
	NamingPlain FieldNaming = "plain"
	NamingIDs   FieldNaming = "ids"
)

// Valid reports whether n is a known naming.
func (n FieldNaming) Valid() bool {
	return n == NamingPlain || n == NamingIDs
}

type idsTransaction struct {
	PumpID        int64           `json:"pump_id"`
	NozzleID      int64           `json:"nozzle_id"`
	AttendantName string          `json:"attendant_name"`
	FuelTypeID    int64           `json:"fuel_type_id"`
	Volume        decimal.Decimal `json:"volume"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

// Encode marshals the transaction with the given field naming.
func (t Transaction) Encode(naming FieldNaming) ([]byte, error) {
	if naming == NamingIDs {
		return json.Marshal(idsTransaction{
			PumpID:        t.Pump,
			NozzleID:      t.Nozzle,
			AttendantName: t.Attendant,
			FuelTypeID:    t.FuelType,
			Volume:        t.Volume,
			TotalCost:     t.TotalCost,
		})
	}

	return json.Marshal(t)
}
