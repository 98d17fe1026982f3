package query

import (
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/vegasq/tripmean/exec"
	"github.com/vegasq/tripmean/expr"
)

// ResultMap maps a group key to the mean measure of its rows.
type ResultMap map[int]float64

// Keys returns the group keys in ascending order.
func (r ResultMap) Keys() []int {
	keys := make([]int, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// GroupKey converts a grouping column value to its integer key, rounding
// half away from zero.
func GroupKey(v float64) int {
	return int(math.Round(v))
}

// Merge combines aggregate output batches into one mean per group key.
// Partial sums and counts of a key are added across batches and divided
// once, so the result does not depend on how rows were split into batches.
func Merge(batches []arrow.Record) (ResultMap, error) {
	partials := make(map[int]*exec.PartialAggregate)
	for i, rec := range batches {
		if err := mergeBatch(partials, rec); err != nil {
			return nil, fmt.Errorf("%w: batch %d: %w", ErrExecutionFailure, i, err)
		}
	}

	result := make(ResultMap, len(partials))
	for k, p := range partials {
		if p.Count == 0 {
			continue
		}
		result[k] = p.Mean()
	}
	return result, nil
}

func mergeBatch(partials map[int]*exec.PartialAggregate, rec arrow.Record) error {
	schema := rec.Schema()
	if schema.NumFields() != 3 {
		return fmt.Errorf("unexpected aggregate schema %s", schema)
	}
	keyField := schema.Field(0)
	if keyField.Name != exec.GroupKeyField || !expr.IsNumeric(keyField.Type) {
		return fmt.Errorf("unexpected group key field %s", keyField)
	}
	keys, err := expr.NumericAccessor(rec.Column(0))
	if err != nil {
		return err
	}
	sums, ok := rec.Column(1).(*array.Float64)
	if !ok || schema.Field(1).Name != exec.MeasureSumField {
		return fmt.Errorf("unexpected sum field %s", schema.Field(1))
	}
	counts, ok := rec.Column(2).(*array.Uint64)
	if !ok || schema.Field(2).Name != exec.MeasureCountField {
		return fmt.Errorf("unexpected count field %s", schema.Field(2))
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		v, valid := keys(i)
		if !valid || math.IsNaN(v) || sums.IsNull(i) || counts.IsNull(i) {
			continue
		}
		k := GroupKey(v)
		p, exists := partials[k]
		if !exists {
			p = &exec.PartialAggregate{}
			partials[k] = p
		}
		p.Merge(exec.PartialAggregate{Sum: sums.Value(i), Count: counts.Value(i)})
	}
	return nil
}
