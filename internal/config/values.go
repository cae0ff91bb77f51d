package config

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var hundred = decimal.NewFromInt(100)

// amount is a decimal that decodes from a TOML float, integer or string.
// Strings keep every digit, so "0.00012345" is exact where a float might not
// be.
type amount struct {
	decimal.Decimal
}

// UnmarshalTOML implements toml.Unmarshaler.
func (a *amount) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case float64:
		a.Decimal = decimal.NewFromFloat(x)
	case int64:
		a.Decimal = decimal.NewFromInt(x)
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", x, err)
		}
		a.Decimal = d
	default:
		return fmt.Errorf("invalid amount %v (%T)", v, v)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (a amount) MarshalText() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}
