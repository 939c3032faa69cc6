package domain

import "time"

// Instrument represents a tradeable instrument identified by its symbol.
// Corresponds to instruments table in PostgreSQL.
type Instrument struct {
	ID             string   // UUID primary key
	Symbol         string   // unique trading symbol, e.g. "NIFTY"
	Exchange       string   // listing exchange, e.g. "NSE"
	InstrumentType string   // "INDEX" | "EQ" | "FUT" | "OPT" | ...
	LotSize        *int64   // optional contract lot size
	TickSize       *float64 // optional minimum price increment
	CreatedAt      time.Time
}

// Instrument type constants
const (
	InstrumentTypeIndex   = "INDEX"
	InstrumentTypeEquity  = "EQ"
	InstrumentTypeFuture  = "FUT"
	InstrumentTypeOption  = "OPT"
	InstrumentTypeUnknown = "UNKNOWN"
)

// PriceStep returns the price increment used to group prices into levels.
// Falls back to 0.01 when the instrument has no positive tick size.
func (i *Instrument) PriceStep() float64 {
	if i != nil && i.TickSize != nil && *i.TickSize > 0 {
		return *i.TickSize
	}
	return DefaultPriceStep
}

// DefaultPriceStep is the price level granularity for instruments without a tick size.
const DefaultPriceStep = 0.01
