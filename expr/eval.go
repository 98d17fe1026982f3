package expr

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Evaluate evaluates the comparison for every row of rec
func (c *Comparison) Evaluate(rec arrow.Record) ([]bool, error) {
	idx := rec.Schema().FieldIndices(c.Field.Name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotFound, c.Field.Name)
	}
	col := rec.Column(idx[0])
	out := make([]bool, col.Len())

	if ts, ok := col.(*array.Timestamp); ok {
		t, ok := c.Value.Value.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: column %q is %s, literal is %T", ErrTypeMismatch, c.Field.Name, col.DataType(), c.Value.Value)
		}
		unit := ts.DataType().(*arrow.TimestampType).Unit
		lit := int64(TimestampIn(t, unit))
		// A literal finer than the column unit sits strictly after lit
		exact := subUnitRemainder(t, unit) == 0
		for i := range out {
			if ts.IsNull(i) {
				continue
			}
			v := int64(ts.Value(i))
			if v == lit && !exact {
				out[i] = compareInts(0, c.Op, 1)
				continue
			}
			out[i] = compareInts(v, c.Op, lit)
		}
		return out, nil
	}

	lit, ok := toFloat64(c.Value.Value)
	if !ok {
		return nil, fmt.Errorf("%w: column %q is %s, literal is %T", ErrTypeMismatch, c.Field.Name, col.DataType(), c.Value.Value)
	}
	at, err := NumericAccessor(col)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", c.Field.Name, err)
	}
	for i := range out {
		v, valid := at(i)
		if !valid {
			continue
		}
		out[i] = compareNumbers(v, c.Op, lit)
	}
	return out, nil
}

// Evaluate evaluates the conjunction for every row of rec
func (a *Conjunction) Evaluate(rec arrow.Record) ([]bool, error) {
	var out []bool
	for _, op := range a.Operands {
		mask, err := op.Evaluate(rec)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = mask
			continue
		}
		for i := range out {
			out[i] = out[i] && mask[i]
		}
	}
	if out == nil {
		out = make([]bool, rec.NumRows())
	}
	return out, nil
}

// CountTrue returns the number of set entries in mask.
func CountTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}
