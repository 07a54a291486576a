package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// InsufficientData is the JSON form of a Metric with no defined value.
const InsufficientData = "insufficient_data"

// Metric is a ratio that is either a finite number or explicitly undefined
// ("insufficient data"). It never holds an infinity or NaN.
type Metric struct {
	Value float64
	Valid bool
}

// MetricOf returns a valid Metric, or the insufficient-data sentinel when v
// is not finite.
func MetricOf(v float64) Metric {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return Metric{}
	}
	return Metric{Value: v, Valid: true}
}

// Insufficient returns the insufficient-data sentinel.
func Insufficient() Metric {
	return Metric{}
}

// String renders the metric for arithmetic text.
func (m Metric) String() string {
	if !m.Valid {
		return "insufficient data"
	}
	return strconv.FormatFloat(m.Value, 'f', 2, 64)
}

// MarshalJSON encodes a number or the insufficient-data string.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return json.Marshal(InsufficientData)
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON accepts a number, null, or the insufficient-data string.
func (m *Metric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Metric{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "metric: decode string")
		}
		if s == InsufficientData || strings.EqualFold(s, "insufficient data") {
			*m = Metric{}
			return nil
		}
		return eris.Errorf("metric: unexpected value %q", s)
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "metric: decode number")
	}
	*m = MetricOf(v)
	return nil
}

// Amount is a money figure stated by the upstream service. It decodes from a
// JSON number or a numeric string such as "$12,500"; anything else is an
// error rather than a guessed value.
type Amount float64

// Float returns the amount as a float64.
func (a Amount) Float() float64 { return float64(a) }

// MarshalJSON always encodes a plain number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(a))
}

// UnmarshalJSON implements the lenient numeric decoding described on Amount.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "amount: decode string")
		}
		v, err := ParseAmount(s)
		if err != nil {
			return err
		}
		*a = Amount(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "amount: decode number")
	}
	*a = Amount(v)
	return nil
}

var amountReplacer = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "")

// ParseAmount parses a numeric string that may carry a currency symbol and
// thousands separators.
func ParseAmount(s string) (float64, error) {
	cleaned := amountReplacer.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, eris.Errorf("amount: empty value %q", s)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Errorf("amount: %q is not numeric", s)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, eris.Errorf("amount: %q is not finite", s)
	}
	return v, nil
}
