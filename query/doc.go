// Package query computes the mean trip distance per passenger count over a
// trip dataset, optionally restricted to a time window.
//
// A query builds a dataset scan that projects the pickup, dropoff, passenger
// count and distance columns and filters on the trip times, then runs it
// through an exec.Plan:
//
//	source (scan batches) -> aggregate (sum and count per key) -> sink
//
// The partial aggregates reaching the sink are merged into a ResultMap.
//
// # Basic Usage
//
//	ds, err := dataset.Open(ctx, dataset.Source{URI: "s3://nyc-tlc/trip-data/"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	start, end, err := query.ParseTimeRange("2020-08-01", "2020-08-02")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	q := query.New(ds, query.WithParallelism(4), query.WithTimeout(time.Minute))
//	means, err := q.GetAverageDistances(ctx, start, end)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, k := range means.Keys() {
//	    fmt.Printf("%d: %.2f\n", k, means[k])
//	}
//
// # Time Window
//
// Both bounds are inclusive and either may be nil:
//
//	start and end:  pickup >= start and dropoff <= end
//	start only:     pickup >= start
//	end only:       dropoff <= end
//
// A start after the end matches no trip.
//
// # Nulls
//
// Rows with a null or NaN passenger count or a null distance are skipped.
// Passenger counts are rounded half away from zero to form the integer key.
//
// # Errors
//
// Errors wrap ErrSchemaMismatch when a column is missing or has the wrong
// type, ErrExecutionFailure when reading or aggregating fails, and ErrTimeout
// when the result does not arrive within WithTimeout. A timed out plan keeps
// running in the background until its scan finishes.
package query
