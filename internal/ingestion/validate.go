package ingestion

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"candle-engine/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(rawTickStructLevel, domain.RawTick{})
	return v
}

// rawTickStructLevel enforces rules that span fields: the resolved price
// must be positive and every numeric field finite.
func rawTickStructLevel(sl validator.StructLevel) {
	raw := sl.Current().Interface().(domain.RawTick)

	if p := raw.Price(); !(p > 0) || math.IsInf(p, 0) {
		sl.ReportError(raw.LTP, "LTP", "ltp", "price", "")
	}
	fields := []struct {
		name string
		v    float64
	}{
		{"Volume", raw.Volume},
		{"Change", raw.Change},
		{"ChangePercent", raw.ChangePercent},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			sl.ReportError(f.v, f.name, strings.ToLower(f.name), "finite", "")
		}
	}
}

// ValidateRawTick checks a raw tick before anything is persisted.
// Failures wrap ErrValidation.
func ValidateRawTick(raw domain.RawTick) error {
	raw.Symbol = strings.TrimSpace(raw.Symbol)
	err := validate.Struct(raw)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
