package parser

import (
	"sort"
	"strconv"
	"strings"
)

// Field names reported by the device firmware.
const (
	FieldPot    = "pot"
	FieldButton = "btn"
	FieldTemp   = "temp"
)

// Record is one decoded device sample. The decoder enforces no schema
// beyond "is a JSON object"; use the accessors to read known fields.
// A field missing from a record is missing, never carried over from an
// earlier sample.
type Record map[string]any

// Number returns key as a float64. Booleans map to 0/1 and numeric
// strings are parsed, since some firmware prints values quoted.
func (r Record) Number(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Flag reports whether key holds exactly 1 (or true).
func (r Record) Flag(key string) (on bool, ok bool) {
	n, ok := r.Number(key)
	if !ok {
		return false, false
	}
	return n == 1, true
}

// Text returns key rendered as a string.
func (r Record) Text(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}

// Pot returns the analog input scaled 0-100.
func (r Record) Pot() (float64, bool) { return r.Number(FieldPot) }

// Button reports the digital input state.
func (r Record) Button() (bool, bool) { return r.Flag(FieldButton) }

// Temp returns the temperature reading in degrees Celsius.
func (r Record) Temp() (float64, bool) { return r.Number(FieldTemp) }

// Keys returns the record's field names with the device fields first,
// then the rest alphabetically.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for _, k := range []string{FieldPot, FieldButton, FieldTemp} {
		if _, ok := r[k]; ok {
			keys = append(keys, k)
		}
	}
	var rest []string
	for k := range r {
		switch k {
		case FieldPot, FieldButton, FieldTemp:
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
