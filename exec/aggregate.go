package exec

import (
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vegasq/tripmean/expr"
)

// Column names of the aggregate output schema.
const (
	GroupKeyField     = "group_key"
	MeasureSumField   = "measure_sum"
	MeasureCountField = "measure_count"
)

// AggregateSchema is the output schema of an aggregate stage grouping by a
// key column of keyType.
func AggregateSchema(keyType arrow.DataType) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: GroupKeyField, Type: keyType},
		{Name: MeasureSumField, Type: arrow.PrimitiveTypes.Float64},
		{Name: MeasureCountField, Type: arrow.PrimitiveTypes.Uint64},
	}, nil)
}

// PartialAggregate is the running sum and count of a measure for one group.
type PartialAggregate struct {
	Sum   float64
	Count uint64
}

// Add accumulates one measure value.
func (p *PartialAggregate) Add(v float64) {
	p.Sum += v
	p.Count++
}

// Merge folds another partial aggregate into p.
func (p *PartialAggregate) Merge(o PartialAggregate) {
	p.Sum += o.Sum
	p.Count += o.Count
}

// Mean returns Sum/Count, or NaN for an empty aggregate.
func (p PartialAggregate) Mean() float64 {
	if p.Count == 0 {
		return math.NaN()
	}
	return p.Sum / float64(p.Count)
}

// groupTable is the hash table of one aggregate worker
type groupTable map[float64]*PartialAggregate

// accumulate groups the rows of rec into t. Rows with a null or NaN key, or
// a null measure, are skipped.
func (t groupTable) accumulate(rec arrow.Record, keyIdx, measureIdx int) error {
	keys, err := expr.NumericAccessor(rec.Column(keyIdx))
	if err != nil {
		return fmt.Errorf("group key: %w", err)
	}
	measures, err := expr.NumericAccessor(rec.Column(measureIdx))
	if err != nil {
		return fmt.Errorf("measure: %w", err)
	}

	for i := 0; i < int(rec.NumRows()); i++ {
		k, ok := keys(i)
		if !ok || math.IsNaN(k) {
			continue
		}
		v, ok := measures(i)
		if !ok {
			continue
		}
		g, exists := t[k]
		if !exists {
			g = &PartialAggregate{}
			t[k] = g
		}
		g.Add(v)
	}
	return nil
}

// build emits the table as one record with keys in ascending order.
func (t groupTable) build(mem memory.Allocator, schema *arrow.Schema) (arrow.Record, error) {
	keys := make([]float64, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	sums := b.Field(1).(*array.Float64Builder)
	counts := b.Field(2).(*array.Uint64Builder)
	for _, k := range keys {
		if err := appendKey(b.Field(0), k); err != nil {
			return nil, err
		}
		sums.Append(t[k].Sum)
		counts.Append(t[k].Count)
	}
	return b.NewRecord(), nil
}

// appendKey stores a group key back in the type of the source column.
func appendKey(b array.Builder, k float64) error {
	switch b := b.(type) {
	case *array.Float64Builder:
		b.Append(k)
	case *array.Float32Builder:
		b.Append(float32(k))
	case *array.Int64Builder:
		b.Append(int64(k))
	case *array.Int32Builder:
		b.Append(int32(k))
	case *array.Int16Builder:
		b.Append(int16(k))
	case *array.Int8Builder:
		b.Append(int8(k))
	case *array.Uint64Builder:
		b.Append(uint64(k))
	case *array.Uint32Builder:
		b.Append(uint32(k))
	case *array.Uint16Builder:
		b.Append(uint16(k))
	case *array.Uint8Builder:
		b.Append(uint8(k))
	default:
		return fmt.Errorf("unsupported group key type %s", b.Type())
	}
	return nil
}
