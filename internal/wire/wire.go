// Package wire holds the JSON shapes shared by every remote call: tolerant
// numeric/id/bool decoding and the fixed timestamp layout the API expects.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the API's wire format for timestamps (space, not "T").
const TimestampLayout = "2006-01-02 15:04:05"

// ISOLayout is used for locally generated created_at values.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatISO renders t in UTC with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// ParseTime accepts the wire layout, RFC3339 and the ISO layout.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, ISOLayout} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

// NormalizeTimestamp converts any accepted timestamp string into TimestampLayout.
func NormalizeTimestamp(value string) (string, error) {
	t, err := ParseTime(value)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// Fixed formats v with the given number of decimal places.
func Fixed(v float64, places int) string {
	return strconv.FormatFloat(v, 'f', places, 64)
}

// ParseNumber converts form input to the float sent on the wire.
func ParseNumber(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("number %q: %w", raw, err)
	}
	return v, nil
}

// Number decodes JSON numbers and numeric strings alike.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("number: %w", err)
		}
		*n = Number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

func (n Number) Float() float64 { return float64(n) }

// String renders n without trailing zeros.
func (n Number) String() string { return strconv.FormatFloat(float64(n), 'f', -1, 64) }

// ID decodes identifiers that may arrive as numbers or strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return err
	}
	*id = ID(num.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Bool decodes true/false as well as 1/0 and "1"/"0".
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	switch strings.ToLower(raw) {
	case "true", "1":
		*b = true
	case "false", "0", "", "null":
		*b = false
	default:
		return fmt.Errorf("bool: unexpected value %s", raw)
	}
	return nil
}

// IDValue renders an identifier the way the API expects it: numeric ids as
// JSON numbers, anything else as a string.
func IDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
