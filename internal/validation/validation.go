package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrValidation is matched by every *Errors value via errors.Is.
var ErrValidation = errors.New("validation_error")

type Error struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Errors collects field-level problems found before any network attempt.
type Errors struct {
	Errors []Error `json:"errors"`
}

func (v *Errors) Error() string {
	if v == nil || len(v.Errors) == 0 {
		return "validation error"
	}
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (v *Errors) Is(target error) bool {
	return target == ErrValidation
}

func (v *Errors) Add(field, code, message string) {
	v.Errors = append(v.Errors, Error{Field: field, Code: code, Message: message})
}

// Err returns nil when nothing was collected.
func (v *Errors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func New(field, code, message string) error {
	return &Errors{Errors: []Error{{Field: field, Code: code, Message: message}}}
}

// As extracts the collected field errors from err.
func As(err error) (*Errors, bool) {
	var v *Errors
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Required trims value and records a "required" error when it is empty.
func (v *Errors) Required(field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		v.Add(field, "required", field+" is required")
	}
	return value
}

// Positive parses raw as a float greater than zero.
func (v *Errors) Positive(field, raw string) float64 {
	n, ok := v.number(field, raw)
	if !ok {
		return 0
	}
	if n <= 0 {
		v.Add(field, "not_positive", field+" must be a positive number")
		return 0
	}
	return n
}

// NonNegative parses raw as a float greater than or equal to zero.
func (v *Errors) NonNegative(field, raw string) float64 {
	n, ok := v.number(field, raw)
	if !ok {
		return 0
	}
	if n < 0 {
		v.Add(field, "negative", field+" must not be negative")
		return 0
	}
	return n
}

// Between parses raw as a float within [min, max].
func (v *Errors) Between(field, raw string, min, max float64) float64 {
	n, ok := v.number(field, raw)
	if !ok {
		return 0
	}
	if n < min || n > max {
		v.Add(field, "out_of_range", field+" must be between "+strconv.FormatFloat(min, 'f', -1, 64)+" and "+strconv.FormatFloat(max, 'f', -1, 64))
		return 0
	}
	return n
}

// number parses raw as a finite float. NaN and infinities fail every range
// check and cannot be encoded as JSON.
func (v *Errors) number(field, raw string) (float64, bool) {
	n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		v.Add(field, "not_a_number", field+" must be a number")
		return 0, false
	}
	return n, true
}
