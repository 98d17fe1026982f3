package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/vegasq/tripmean/expr"
)

// DefaultBatchSize is the maximum number of rows per emitted batch when the
// scan does not set one.
const DefaultBatchSize = 32 * 1024

// unsupportedKey marks schema fields whose storage type cannot be decoded.
const unsupportedKey = "tripmean.unsupported"

var (
	// ErrSchemaMismatch is returned when a projection or filter names a
	// column the dataset does not have, or compares it with an incompatible
	// literal.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrIncompatibleFragment is returned while scanning when a file lacks a
	// needed column or stores it with a different type than the dataset.
	ErrIncompatibleFragment = errors.New("incompatible fragment")

	// ErrNoFragments is returned when discovery finds no data files.
	ErrNoFragments = errors.New("no data files found")
)

// Dataset is an immutable, schema-uniform collection of record batches.
// Implementations are safe for concurrent scans.
type Dataset interface {
	Schema() *arrow.Schema
	NewScan() *ScanBuilder
}

// BatchStream yields the batches of one scan. Next returns io.EOF after the
// last batch. The caller owns every returned record and must release it.
type BatchStream interface {
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// loader produces record batches carrying the read schema of a scan.
type loader interface {
	load(ctx context.Context) ([]arrow.Record, error)
	close() error
}

// scanner is implemented by datasets that can execute a Scan.
type scanner interface {
	newLoader(s *Scan) (loader, error)
}

// ScanBuilder configures a Scan. No data is read until Scan.Batches.
type ScanBuilder struct {
	schema    *arrow.Schema
	impl      scanner
	columns   []string
	projected bool
	filter    expr.Expr
	batchSize int
	mem       memory.Allocator
}

func newScanBuilder(schema *arrow.Schema, impl scanner, mem memory.Allocator) *ScanBuilder {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &ScanBuilder{schema: schema, impl: impl, mem: mem}
}

// Project restricts the scan to the named columns, in the given order.
// If Project is never called every decodable column is emitted. Calling it
// with no columns is an error at Finish.
func (b *ScanBuilder) Project(columns ...string) *ScanBuilder {
	b.columns = append([]string(nil), columns...)
	b.projected = true
	return b
}

// Filter attaches a predicate. Only rows for which it holds are emitted.
func (b *ScanBuilder) Filter(e expr.Expr) *ScanBuilder {
	b.filter = e
	return b
}

// BatchSize caps the number of rows per emitted batch.
func (b *ScanBuilder) BatchSize(n int) *ScanBuilder {
	b.batchSize = n
	return b
}

// Finish validates the configuration against the dataset schema.
func (b *ScanBuilder) Finish() (*Scan, error) {
	columns := b.columns
	if !b.projected {
		for _, f := range b.schema.Fields() {
			if !unsupported(f) {
				columns = append(columns, f.Name)
			}
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: empty projection", ErrSchemaMismatch)
	}

	fields := make([]arrow.Field, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return nil, fmt.Errorf("%w: column %q projected twice", ErrSchemaMismatch, name)
		}
		seen[name] = true
		f, err := lookupField(b.schema, name)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	projected := arrow.NewSchema(fields, nil)

	// Filter-only columns are read after the projected ones and dropped
	// before emission
	readFields := append([]arrow.Field(nil), fields...)
	if b.filter != nil {
		if err := b.filter.Bind(b.schema); err != nil {
			return nil, fmt.Errorf("%w: filter %s: %v", ErrSchemaMismatch, b.filter, err)
		}
		for _, name := range b.filter.Fields() {
			if seen[name] {
				continue
			}
			seen[name] = true
			f, err := lookupField(b.schema, name)
			if err != nil {
				return nil, err
			}
			readFields = append(readFields, f)
		}
	}

	batchSize := b.batchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &Scan{
		impl:      b.impl,
		projected: projected,
		read:      arrow.NewSchema(readFields, nil),
		filter:    b.filter,
		batchSize: batchSize,
		mem:       b.mem,
	}, nil
}

func lookupField(schema *arrow.Schema, name string) (arrow.Field, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return arrow.Field{}, fmt.Errorf("%w: unknown column %q", ErrSchemaMismatch, name)
	}
	f := schema.Field(idx[0])
	if unsupported(f) {
		return arrow.Field{}, fmt.Errorf("%w: column %q has unsupported storage type", ErrSchemaMismatch, name)
	}
	return f, nil
}

func unsupported(f arrow.Field) bool {
	return f.HasMetadata() && f.Metadata.FindKey(unsupportedKey) >= 0
}

// ScanStats are cumulative counters over every stream of a Scan.
type ScanStats struct {
	RowGroupsRead   int64
	RowGroupsPruned int64
	RowsScanned     int64
	BatchesEmitted  int64
}

// Scan is a validated, inert scan plan.
type Scan struct {
	impl      scanner
	projected *arrow.Schema
	read      *arrow.Schema
	filter    expr.Expr
	batchSize int
	mem       memory.Allocator

	rowGroupsRead   atomic.Int64
	rowGroupsPruned atomic.Int64
	rowsScanned     atomic.Int64
	batchesEmitted  atomic.Int64
}

// ProjectedSchema is the schema of every emitted batch.
func (s *Scan) ProjectedSchema() *arrow.Schema { return s.projected }

// Columns returns the projected column names.
func (s *Scan) Columns() []string {
	names := make([]string, s.projected.NumFields())
	for i, f := range s.projected.Fields() {
		names[i] = f.Name
	}
	return names
}

// Filter returns the attached predicate, or nil.
func (s *Scan) Filter() expr.Expr { return s.filter }

// Stats returns a snapshot of the scan counters.
func (s *Scan) Stats() ScanStats {
	return ScanStats{
		RowGroupsRead:   s.rowGroupsRead.Load(),
		RowGroupsPruned: s.rowGroupsPruned.Load(),
		RowsScanned:     s.rowsScanned.Load(),
		BatchesEmitted:  s.batchesEmitted.Load(),
	}
}

// Batches starts a fresh stream over the dataset.
func (s *Scan) Batches(ctx context.Context) (BatchStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l, err := s.impl.newLoader(s)
	if err != nil {
		return nil, err
	}
	return &batchStream{scan: s, loader: l}, nil
}

// selectRows drops filter-only columns and rows that fail the filter. It
// returns nil when no row survives. rec is not released.
func (s *Scan) selectRows(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
	n := rec.NumRows()
	s.rowsScanned.Add(n)
	if n == 0 {
		return nil, nil
	}

	cols := make([]arrow.Array, s.projected.NumFields())
	for i := range cols {
		cols[i] = rec.Column(i)
	}
	projected := array.NewRecord(s.projected, cols, n)
	if s.filter == nil {
		return projected, nil
	}
	defer projected.Release()

	mask, err := s.filter.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	switch expr.CountTrue(mask) {
	case 0:
		return nil, nil
	case len(mask):
		projected.Retain()
		return projected, nil
	}

	mb := array.NewBooleanBuilder(s.mem)
	defer mb.Release()
	mb.AppendValues(mask, nil)
	sel := mb.NewArray()
	defer sel.Release()

	return compute.FilterRecordBatch(compute.WithAllocator(ctx, s.mem), projected, sel, compute.DefaultFilterOptions())
}

// batchStream applies a scan's selection to the output of a loader
type batchStream struct {
	scan    *Scan
	loader  loader
	pending []arrow.Record
	done    bool
}

func (b *batchStream) Next(ctx context.Context) (arrow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for len(b.pending) > 0 {
			rec := b.pending[0]
			b.pending = b.pending[1:]
			out, err := b.scan.selectRows(ctx, rec)
			rec.Release()
			if err != nil {
				return nil, err
			}
			if out == nil {
				continue
			}
			b.scan.batchesEmitted.Add(1)
			return out, nil
		}
		if b.done {
			return nil, io.EOF
		}
		recs, err := b.loader.load(ctx)
		if errors.Is(err, io.EOF) {
			b.done = true
			continue
		}
		if err != nil {
			return nil, err
		}
		b.pending = recs
	}
}

func (b *batchStream) Close() error {
	for _, rec := range b.pending {
		rec.Release()
	}
	b.pending = nil
	b.done = true
	return b.loader.close()
}

// sliceRecord splits rec into batches of at most size rows and releases rec.
func sliceRecord(rec arrow.Record, size int) []arrow.Record {
	n := rec.NumRows()
	if n <= int64(size) {
		return []arrow.Record{rec}
	}
	defer rec.Release()
	out := make([]arrow.Record, 0, (n+int64(size)-1)/int64(size))
	for off := int64(0); off < n; off += int64(size) {
		end := off + int64(size)
		if end > n {
			end = n
		}
		out = append(out, rec.NewSlice(off, end))
	}
	return out
}
