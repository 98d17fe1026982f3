package expr

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// IsNumeric reports whether dt is an integer or floating point type.
func IsNumeric(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64:
		return true
	default:
		return false
	}
}

// Float64Accessor reads row i of a numeric column as float64. The boolean
// is false for null slots.
type Float64Accessor func(i int) (float64, bool)

// NumericAccessor returns an accessor over a numeric array.
func NumericAccessor(arr arrow.Array) (Float64Accessor, error) {
	switch a := arr.(type) {
	case *array.Float64:
		return func(i int) (float64, bool) { return a.Value(i), a.IsValid(i) }, nil
	case *array.Float32:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Int64:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Int32:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Int16:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Int8:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Uint64:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Uint32:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Uint16:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	case *array.Uint8:
		return func(i int) (float64, bool) { return float64(a.Value(i)), a.IsValid(i) }, nil
	default:
		return nil, fmt.Errorf("%w: %s is not numeric", ErrTypeMismatch, arr.DataType())
	}
}

// TimestampIn converts t to a count of unit since the Unix epoch.
func TimestampIn(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Microsecond:
		return arrow.Timestamp(t.UnixMicro())
	default:
		return arrow.Timestamp(t.UnixNano())
	}
}

// subUnitRemainder returns the nanoseconds of t not representable in unit.
func subUnitRemainder(t time.Time, unit arrow.TimeUnit) int {
	switch unit {
	case arrow.Second:
		return t.Nanosecond()
	case arrow.Millisecond:
		return t.Nanosecond() % int(time.Millisecond)
	case arrow.Microsecond:
		return t.Nanosecond() % int(time.Microsecond)
	default:
		return 0
	}
}

// TimeOf converts a timestamp stored in unit back to time.Time (UTC).
func TimeOf(ts int64, unit arrow.TimeUnit) time.Time {
	switch unit {
	case arrow.Second:
		return time.Unix(ts, 0).UTC()
	case arrow.Millisecond:
		return time.UnixMilli(ts).UTC()
	case arrow.Microsecond:
		return time.UnixMicro(ts).UTC()
	default:
		return time.Unix(0, ts).UTC()
	}
}

// toFloat64 converts a value to float64 if possible
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

// compareNumbers compares two numbers
func compareNumbers(left float64, operator Op, right float64) bool {
	const epsilon = 1e-9
	switch operator {
	case OpEqual:
		// Relative epsilon for large numbers, absolute for small
		diff := math.Abs(left - right)
		threshold := epsilon * math.Max(1.0, math.Max(math.Abs(left), math.Abs(right)))
		return diff < threshold
	case OpLess:
		return left < right
	case OpGreater:
		return left > right
	case OpLessEqual:
		return left <= right
	case OpGreaterEqual:
		return left >= right
	default:
		return false
	}
}

// compareInts compares two integers
func compareInts(left int64, operator Op, right int64) bool {
	switch operator {
	case OpEqual:
		return left == right
	case OpLess:
		return left < right
	case OpGreater:
		return left > right
	case OpLessEqual:
		return left <= right
	case OpGreaterEqual:
		return left >= right
	default:
		return false
	}
}

// compareValues returns -1, 0 or +1 as a is less than, equal to or greater
// than b. The boolean is false when the values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return at.Compare(bt), true
	}

	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if !aIsNum || !bIsNum {
		return 0, false
	}
	switch {
	case aNum < bNum:
		return -1, true
	case aNum > bNum:
		return 1, true
	default:
		return 0, true
	}
}
