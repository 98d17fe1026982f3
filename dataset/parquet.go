package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go"

	"github.com/vegasq/tripmean/expr"
)

// valueBufferSize is the number of values decoded per ReadValues call
const valueBufferSize = 1024

// FileDataset is a dataset backed by Parquet fragments. The schema is taken
// from the first fragment; the others are checked as they are scanned.
type FileDataset struct {
	fragments []Fragment
	schema    *arrow.Schema
	mem       memory.Allocator
	logger    log.Logger
}

// Option configures a FileDataset.
type Option func(*FileDataset)

// WithAllocator sets the allocator used for decoded batches.
func WithAllocator(mem memory.Allocator) Option {
	return func(d *FileDataset) { d.mem = mem }
}

// WithLogger sets the logger used while scanning.
func WithLogger(logger log.Logger) Option {
	return func(d *FileDataset) { d.logger = logger }
}

// NewFileDataset opens the first fragment to infer the dataset schema.
func NewFileDataset(ctx context.Context, fragments []Fragment, opts ...Option) (*FileDataset, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}
	d := &FileDataset{
		fragments: fragments,
		mem:       memory.DefaultAllocator,
		logger:    log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	pf, err := openParquet(ctx, fragments[0])
	if err != nil {
		return nil, err
	}
	defer func() { _ = pf.Close() }()
	d.schema = arrowSchema(pf.pq.Schema())

	level.Debug(d.logger).Log("msg", "inferred dataset schema", "fragment", fragments[0].Path(), "fragments", len(fragments), "columns", d.schema.NumFields())
	return d, nil
}

// Schema returns the dataset schema.
func (d *FileDataset) Schema() *arrow.Schema { return d.schema }

// Fragments returns the files of the dataset.
func (d *FileDataset) Fragments() []Fragment { return d.fragments }

// NewScan starts configuring a scan.
func (d *FileDataset) NewScan() *ScanBuilder {
	return newScanBuilder(d.schema, d, d.mem)
}

// Describe lists the leaf columns of the first fragment.
func (d *FileDataset) Describe(ctx context.Context) ([]ColumnInfo, error) {
	pf, err := openParquet(ctx, d.fragments[0])
	if err != nil {
		return nil, err
	}
	defer func() { _ = pf.Close() }()
	return describeSchema(pf.pq.Schema()), nil
}

func (d *FileDataset) newLoader(s *Scan) (loader, error) {
	return &fileLoader{scan: s, fragments: d.fragments, logger: d.logger}, nil
}

// parquetFile is an open fragment
type parquetFile struct {
	path string
	file File
	pq   *parquet.File
}

func openParquet(ctx context.Context, frag Fragment) (*parquetFile, error) {
	f, err := frag.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", frag.Path(), err)
	}
	pq, err := parquet.OpenFile(f, f.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: failed to open parquet file: %w", frag.Path(), err)
	}
	return &parquetFile{path: frag.Path(), file: f, pq: pq}, nil
}

func (p *parquetFile) Close() error {
	return p.file.Close()
}

// columnIndexes returns the leaf index of every field of read, checking
// that the fragment stores it with the dataset type.
func (p *parquetFile) columnIndexes(read *arrow.Schema) ([]int, error) {
	leaves := make(map[string]leafColumn)
	for _, leaf := range leafColumns(p.pq.Schema()) {
		leaves[leaf.field.Name] = leaf
	}

	idx := make([]int, read.NumFields())
	for i, f := range read.Fields() {
		leaf, ok := leaves[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrIncompatibleFragment, p.path, f.Name)
		}
		if !leaf.ok || !arrow.TypeEqual(leaf.field.Type, f.Type) {
			return nil, fmt.Errorf("%w: %s stores %q as %s, want %s", ErrIncompatibleFragment, p.path, f.Name, leaf.field.Type, f.Type)
		}
		col, ok := p.pq.Schema().Lookup(leaf.path...)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no column %q", ErrIncompatibleFragment, p.path, f.Name)
		}
		idx[i] = col.ColumnIndex
	}
	return idx, nil
}

// fileLoader reads one row group per load call across all fragments
type fileLoader struct {
	scan      *Scan
	fragments []Fragment
	logger    log.Logger

	next      int
	cur       *parquetFile
	columns   []int
	rowGroups []parquet.RowGroup
	rowGroup  int
}

func (l *fileLoader) load(ctx context.Context) ([]arrow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if l.cur == nil {
			if l.next >= len(l.fragments) {
				return nil, io.EOF
			}
			frag := l.fragments[l.next]
			l.next++

			pf, err := openParquet(ctx, frag)
			if err != nil {
				return nil, err
			}
			columns, err := pf.columnIndexes(l.scan.read)
			if err != nil {
				_ = pf.Close()
				return nil, err
			}
			l.cur, l.columns = pf, columns
			l.rowGroups = pf.pq.RowGroups()
			l.rowGroup = 0
			level.Debug(l.logger).Log("msg", "scanning fragment", "fragment", pf.path, "row_groups", len(l.rowGroups))
		}

		if l.rowGroup >= len(l.rowGroups) {
			err := l.cur.Close()
			l.cur = nil
			if err != nil {
				return nil, err
			}
			continue
		}

		idx := l.rowGroup
		group := l.rowGroups[idx]
		l.rowGroup++
		if group.NumRows() == 0 {
			continue
		}

		if f := l.scan.filter; f != nil && !f.MayMatch(l.statsFor(group)) {
			l.scan.rowGroupsPruned.Add(1)
			level.Debug(l.logger).Log("msg", "pruned row group", "fragment", l.cur.path, "row_group", idx, "filter", f)
			continue
		}

		rec, err := l.readRowGroup(group)
		if err != nil {
			return nil, fmt.Errorf("%s: row group %d: %w", l.cur.path, idx, err)
		}
		l.scan.rowGroupsRead.Add(1)
		return sliceRecord(rec, l.scan.batchSize), nil
	}
}

func (l *fileLoader) close() error {
	l.next = len(l.fragments)
	if l.cur == nil {
		return nil
	}
	err := l.cur.Close()
	l.cur = nil
	return err
}

// statsFor exposes the column index of a row group as value ranges.
func (l *fileLoader) statsFor(group parquet.RowGroup) expr.StatsFunc {
	chunks := group.ColumnChunks()
	return func(field string) (expr.Range, bool) {
		idx := l.scan.read.FieldIndices(field)
		if len(idx) == 0 {
			return expr.Range{}, false
		}
		return columnRange(chunks[l.columns[idx[0]]], l.scan.read.Field(idx[0]).Type)
	}
}

// columnRange folds the per-page min/max values of a column chunk.
func columnRange(chunk parquet.ColumnChunk, dt arrow.DataType) (expr.Range, bool) {
	index, err := chunk.ColumnIndex()
	if err != nil || index == nil {
		return expr.Range{}, false
	}

	if ts, ok := dt.(*arrow.TimestampType); ok {
		lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
		found := false
		for i := 0; i < index.NumPages(); i++ {
			if index.NullPage(i) {
				continue
			}
			minV, maxV := index.MinValue(i), index.MaxValue(i)
			if minV.IsNull() || maxV.IsNull() {
				return expr.Range{}, false
			}
			lo = min(lo, minV.Int64())
			hi = max(hi, maxV.Int64())
			found = true
		}
		if !found {
			return expr.Range{}, false
		}
		return expr.Range{Min: expr.TimeOf(lo, ts.Unit), Max: expr.TimeOf(hi, ts.Unit)}, true
	}

	if !expr.IsNumeric(dt) {
		return expr.Range{}, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	found := false
	for i := 0; i < index.NumPages(); i++ {
		if index.NullPage(i) {
			continue
		}
		minV, okMin := numericValue(index.MinValue(i))
		maxV, okMax := numericValue(index.MaxValue(i))
		if !okMin || !okMax {
			return expr.Range{}, false
		}
		lo = math.Min(lo, minV)
		hi = math.Max(hi, maxV)
		found = true
	}
	if !found {
		return expr.Range{}, false
	}
	return expr.Range{Min: lo, Max: hi}, true
}

func numericValue(v parquet.Value) (float64, bool) {
	switch v.Kind() {
	case parquet.Int32:
		return float64(v.Int32()), true
	case parquet.Int64:
		return float64(v.Int64()), true
	case parquet.Float:
		f := float64(v.Float())
		return f, !math.IsNaN(f)
	case parquet.Double:
		f := v.Double()
		return f, !math.IsNaN(f)
	default:
		return 0, false
	}
}

func (l *fileLoader) readRowGroup(group parquet.RowGroup) (arrow.Record, error) {
	chunks := group.ColumnChunks()
	n := group.NumRows()

	cols := make([]arrow.Array, 0, l.scan.read.NumFields())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	for i, f := range l.scan.read.Fields() {
		arr, err := readColumn(l.scan.mem, chunks[l.columns[i]], f.Type, n)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		cols = append(cols, arr)
	}
	return array.NewRecord(l.scan.read, cols, n), nil
}

// readColumn decodes every page of a column chunk into an Arrow array.
func readColumn(mem memory.Allocator, chunk parquet.ColumnChunk, dt arrow.DataType, numRows int64) (arrow.Array, error) {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.Reserve(int(numRows))

	pages := chunk.Pages()
	defer func() { _ = pages.Close() }()

	buf := make([]parquet.Value, valueBufferSize)
	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read page: %w", err)
		}
		err = appendPage(b, page, buf)
		parquet.Release(page)
		if err != nil {
			return nil, err
		}
	}

	if int64(b.Len()) != numRows {
		return nil, fmt.Errorf("decoded %d values, want %d", b.Len(), numRows)
	}
	return b.NewArray(), nil
}

func appendPage(b array.Builder, page parquet.Page, buf []parquet.Value) error {
	values := page.Values()
	for {
		n, err := values.ReadValues(buf)
		for _, v := range buf[:n] {
			appendValue(b, v)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read values: %w", err)
		}
		if n == 0 {
			return io.ErrNoProgress
		}
	}
}

func appendValue(b array.Builder, v parquet.Value) {
	if v.IsNull() {
		b.AppendNull()
		return
	}
	switch b := b.(type) {
	case *array.TimestampBuilder:
		b.Append(arrow.Timestamp(v.Int64()))
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.StringBuilder:
		b.Append(string(v.ByteArray()))
	default:
		b.AppendNull()
	}
}
