// Package feed adapts external tick sources to the ingestion dispatcher.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"candle-engine/internal/domain"
)

// ErrMalformed is returned for payloads that are not tick envelopes.
var ErrMalformed = errors.New("malformed tick envelope")

// TickSink accepts raw ticks. *ingestion.Dispatcher implements it.
type TickSink interface {
	Submit(ctx context.Context, raw domain.RawTick) error
}

// Envelope is the JSON tick shape shared by every feed.
type Envelope struct {
	Symbol         string  `json:"symbol"`
	Exchange       string  `json:"exchange,omitempty"`
	InstrumentType string  `json:"instrument_type,omitempty"`
	TS             int64   `json:"ts"` // unix milliseconds
	LTP            float64 `json:"ltp,omitempty"`
	Close          float64 `json:"close,omitempty"`
	Volume         float64 `json:"volume"`
	Change         float64 `json:"change,omitempty"`
	ChangePercent  float64 `json:"change_percent,omitempty"`
}

// RawTick converts the envelope. A zero ts yields a zero Timestamp, which
// ingestion rejects.
func (e Envelope) RawTick() domain.RawTick {
	raw := domain.RawTick{
		Symbol:         e.Symbol,
		Exchange:       e.Exchange,
		InstrumentType: e.InstrumentType,
		LTP:            e.LTP,
		Close:          e.Close,
		Volume:         e.Volume,
		Change:         e.Change,
		ChangePercent:  e.ChangePercent,
	}
	if e.TS != 0 {
		raw.Timestamp = time.UnixMilli(e.TS).UTC()
	}
	return raw
}

// NewEnvelope builds the envelope for a raw tick.
func NewEnvelope(raw domain.RawTick) Envelope {
	return Envelope{
		Symbol:         raw.Symbol,
		Exchange:       raw.Exchange,
		InstrumentType: raw.InstrumentType,
		TS:             raw.Timestamp.UnixMilli(),
		LTP:            raw.LTP,
		Close:          raw.Close,
		Volume:         raw.Volume,
		Change:         raw.Change,
		ChangePercent:  raw.ChangePercent,
	}
}

// Decode parses a single envelope or a JSON array of envelopes.
func Decode(data []byte) ([]domain.RawTick, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var envs []Envelope
	if data[0] == '[' {
		if err := json.Unmarshal(data, &envs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var e Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		envs = []Envelope{e}
	}

	out := make([]domain.RawTick, 0, len(envs))
	for _, e := range envs {
		if e.Symbol == "" {
			return nil, fmt.Errorf("%w: missing symbol", ErrMalformed)
		}
		out = append(out, e.RawTick())
	}
	return out, nil
}
