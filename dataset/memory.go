package dataset

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// InMemoryDataset serves scans from records held in memory.
type InMemoryDataset struct {
	schema  *arrow.Schema
	records []arrow.Record
	mem     memory.Allocator
}

// NewInMemoryDataset retains records, which must all carry schema.
func NewInMemoryDataset(schema *arrow.Schema, records ...arrow.Record) (*InMemoryDataset, error) {
	for i, rec := range records {
		if !rec.Schema().Equal(schema) {
			return nil, fmt.Errorf("%w: record %d has schema %s", ErrSchemaMismatch, i, rec.Schema())
		}
	}
	for _, rec := range records {
		rec.Retain()
	}
	return &InMemoryDataset{schema: schema, records: records, mem: memory.DefaultAllocator}, nil
}

// Schema returns the dataset schema.
func (d *InMemoryDataset) Schema() *arrow.Schema { return d.schema }

// NewScan starts configuring a scan.
func (d *InMemoryDataset) NewScan() *ScanBuilder {
	return newScanBuilder(d.schema, d, d.mem)
}

// Release drops the references taken by NewInMemoryDataset.
func (d *InMemoryDataset) Release() {
	for _, rec := range d.records {
		rec.Release()
	}
	d.records = nil
}

func (d *InMemoryDataset) newLoader(s *Scan) (loader, error) {
	idx := make([]int, s.read.NumFields())
	for i, f := range s.read.Fields() {
		idx[i] = d.schema.FieldIndices(f.Name)[0]
	}
	return &memoryLoader{scan: s, records: d.records, idx: idx}, nil
}

// memoryLoader hands out one source record per load call
type memoryLoader struct {
	scan    *Scan
	records []arrow.Record
	idx     []int
	next    int
}

func (l *memoryLoader) load(ctx context.Context) ([]arrow.Record, error) {
	if l.next >= len(l.records) {
		return nil, io.EOF
	}
	rec := l.records[l.next]
	l.next++

	cols := make([]arrow.Array, len(l.idx))
	for i, j := range l.idx {
		cols[i] = rec.Column(j)
	}
	return sliceRecord(array.NewRecord(l.scan.read, cols, rec.NumRows()), l.scan.batchSize), nil
}

func (l *memoryLoader) close() error {
	l.next = len(l.records)
	return nil
}
