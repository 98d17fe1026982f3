// Package dataset exposes collections of columnar files as scannable
// datasets of Arrow record batches.
//
// A Dataset has one schema and hands out ScanBuilders. A scan selects
// columns, attaches an optional predicate and produces a BatchStream:
//
//	scan, err := ds.NewScan().
//	    Project("passenger_count", "trip_distance").
//	    Filter(pred).
//	    Finish()
//	if err != nil {
//	    return err
//	}
//	stream, err := scan.Batches(ctx)
//
// Every emitted batch has exactly the projected columns, in order, and only
// rows that satisfy the predicate. Columns referenced only by the predicate
// are decoded for evaluation and dropped before emission.
//
// # Parquet
//
// FileDataset reads Parquet fragments from the local filesystem or an
// S3-compatible store. The schema is inferred from the first fragment. Row
// groups whose column index proves the predicate cannot match are skipped
// without decoding. Fragments missing a needed column, or storing it with a
// different type, fail the scan with ErrIncompatibleFragment.
//
// Use Open with a Source to discover fragments:
//
//	ds, err := dataset.Open(ctx, dataset.Source{URI: "data/", Pattern: "yellow_tripdata_*.parquet"})
package dataset
