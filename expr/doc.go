// Package expr provides boolean predicates over Arrow record batches.
//
// Predicates are small immutable trees of column comparisons joined by AND.
// They are evaluated column-at-a-time against a record and produce one
// boolean per row, which makes them suitable for pushdown into a scan.
//
// # Building Predicates
//
//	start := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)
//	pred := expr.And(
//	    expr.GreaterEqual(expr.Field("tpep_pickup_datetime"), expr.Lit(start)),
//	    expr.LessEqual(expr.Field("trip_distance"), expr.Lit(10.0)),
//	)
//
// # Type System
//
//   - Timestamp columns compare against time.Time literals, converted to the
//     column's unit before comparison
//   - Numeric columns compare against any Go numeric literal as float64
//   - Null values never satisfy a comparison
//
// Bind validates a predicate against a schema before any data is read.
//
// # Statistics
//
// MayMatch answers whether a chunk of data whose columns lie within known
// ranges could contain a matching row. Scans use it to skip Parquet row
// groups without decoding them.
package expr
