package backend

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// Representations of a backend field, in lookup priority order.
const (
	RepresentationStandard = "standard"
	RepresentationInput    = "input"
	RepresentationDisplay  = "display"
)

// PaymentsStateKey holds collection metadata inside a Payments map rather than a payment record.
const PaymentsStateKey = "state"

// PaymentsKey builds the dotted path of a payment record or one of its attributes.
func PaymentsKey(paymentID string, attribute ...string) string {
	parts := append([]string{"Payments", paymentID}, attribute...)
	return strings.Join(parts, "::")
}

// Field returns data[key] when it is a representation object.
func Field(data map[string]any, key string) (map[string]any, bool) {
	if data == nil {
		return nil, false
	}
	field, ok := data[key].(map[string]any)
	return field, ok
}

// Standard returns the standard representation of data[key] as text.
func Standard(data map[string]any, key string) string {
	field, ok := Field(data, key)
	if !ok {
		return ""
	}
	return Text(field[RepresentationStandard])
}

// PreferredValue returns the first non-empty representation of a field, trying standard, then
// input, then display.
func PreferredValue(field any) (any, bool) {
	obj, ok := field.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, key := range []string{RepresentationStandard, RepresentationInput, RepresentationDisplay} {
		value, present := obj[key]
		if !present || value == nil {
			continue
		}
		if s, isString := value.(string); isString && s == "" {
			continue
		}
		return value, true
	}
	return nil, false
}

// UnwrapJSON decodes a JSON encoded string value at most twice. Backend serialization sometimes
// double-encodes; anything that fails to parse is returned unchanged.
func UnwrapJSON(value any) any {
	first, ok := value.(string)
	if !ok {
		return value
	}
	var once any
	if err := json.Unmarshal([]byte(first), &once); err != nil {
		return first
	}
	second, ok := once.(string)
	if !ok {
		return once
	}
	var twice any
	if err := json.Unmarshal([]byte(second), &twice); err != nil {
		return second
	}
	return twice
}

// Text renders a scalar JSON value as a string. Objects and arrays are re-encoded.
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}

// PaymentIDFromPayments scans a Payments map for the first record carrying a payment_id,
// skipping the state entry. Keys are visited in sorted order.
func PaymentIDFromPayments(payments map[string]any) string {
	keys := make([]string, 0, len(payments))
	for key := range payments {
		if key == PaymentsStateKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		record, ok := payments[key].(map[string]any)
		if !ok {
			continue
		}
		if id := Standard(record, "payment_id"); id != "" {
			return id
		}
	}
	return ""
}

// Payments returns data.Payments as a map, or nil.
func Payments(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	payments, _ := data["Payments"].(map[string]any)
	return payments
}
