package model

import "math"

// Leaf is a single raw value fed by the ingest loop: a measurement that
// coerces or quantizes its input before deciding how urgently the change
// should be reflected in a snapshot (§3, §4.6).
type Leaf interface {
	ID() string
	Update(value *float64) ChangeClass
}

// BoolValue coerces incoming floats to a nullable bool. A nil input is
// preserved as nil rather than coerced to false (§3).
type BoolValue struct {
	id          string
	changeClass ChangeClass
	value       *bool
}

// NewBoolValue constructs an unregistered BoolValue leaf; callers install it
// into a Registry separately (two-phase construction, §9).
func NewBoolValue(id string, changeClass ChangeClass) *BoolValue {
	return &BoolValue{id: id, changeClass: changeClass}
}

func (b *BoolValue) ID() string { return b.id }

// Value returns the leaf's current nullable boolean.
func (b *BoolValue) Value() *bool { return b.value }

// Update coerces value to a bool (nil stays nil), compares against the
// stored value, and only reports a change when the coerced value differs.
func (b *BoolValue) Update(value *float64) ChangeClass {
	candidate := coerceBool(value)
	if boolPtrEqual(b.value, candidate) {
		return ChangeNone
	}
	b.value = candidate
	return b.changeClass
}

func coerceBool(value *float64) *bool {
	if value == nil {
		return nil
	}
	v := *value != 0
	return &v
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// RoundedValue quantizes incoming floats to the nearest multiple of scale. A
// nil input is preserved as nil (§3).
type RoundedValue struct {
	id          string
	changeClass ChangeClass
	scale       float64
	value       *float64
}

// NewRoundedValue constructs an unregistered RoundedValue leaf; see
// NewBoolValue for the two-phase construction rationale.
func NewRoundedValue(id string, changeClass ChangeClass, scale float64) *RoundedValue {
	return &RoundedValue{id: id, changeClass: changeClass, scale: scale}
}

func (r *RoundedValue) ID() string { return r.id }

// Value returns the leaf's current nullable, quantized float.
func (r *RoundedValue) Value() *float64 { return r.value }

// Update quantizes value to the nearest multiple of r.scale, compares
// against the stored (already-quantized) value, and only reports a change
// when the quantized value differs. This makes quantization idempotent:
// feeding back an already-quantized value always classifies as NO (§8).
func (r *RoundedValue) Update(value *float64) ChangeClass {
	candidate := quantize(value, r.scale)
	if floatPtrEqual(r.value, candidate) {
		return ChangeNone
	}
	r.value = candidate
	return r.changeClass
}

func quantize(value *float64, scale float64) *float64 {
	if value == nil {
		return nil
	}
	v := math.Round(*value/scale) * scale
	return &v
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
