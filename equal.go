package vetamin

import (
	"math"
	"reflect"
)

// EqualityFunc decides whether two selected slices are unchanged.
type EqualityFunc[U any] func(a, b U) bool

// Is reports whether a and b are the same value. It is the default equality
// of a subscription and never compares structure:
//
//   - maps, pointers, channels and funcs are the same only if they share
//     identity; slices must also have the same length
//   - other comparable values are compared with ==, except that NaN is the
//     same as NaN and 0 is not the same as -0
//   - anything else (structs holding slices, for instance) is never the same
func Is[U any](a, b U) bool {
	return sameValue(any(a), any(b))
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Float32, reflect.Float64:
		x, y := va.Float(), vb.Float()
		if math.IsNaN(x) && math.IsNaN(y) {
			return true
		}
		return x == y && math.Signbit(x) == math.Signbit(y)
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}

	if va.Comparable() {
		return a == b
	}
	return false
}

// ShallowEqual compares maps, slices and arrays one level deep, using Is on
// each element. Other values fall back to Is.
func ShallowEqual[U any](a, b U) bool {
	va, vb := reflect.ValueOf(any(a)), reflect.ValueOf(any(b))
	if !va.IsValid() || !vb.IsValid() {
		return va.IsValid() == vb.IsValid()
	}
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map:
		if va.IsNil() != vb.IsNil() || va.Len() != vb.Len() {
			return false
		}
		iter := va.MapRange()
		for iter.Next() {
			other := vb.MapIndex(iter.Key())
			if !other.IsValid() || !sameValue(iter.Value().Interface(), other.Interface()) {
				return false
			}
		}
		return true
	case reflect.Slice, reflect.Array:
		if va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !sameValue(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	}
	return Is(a, b)
}
