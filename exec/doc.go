// Package exec runs push-based execution plans over Arrow record batches.
//
// A Plan is a linear chain of stages declared in data flow order:
//
//	collector := exec.NewCollector()
//	plan := exec.NewPlan(exec.DefaultPool())
//	plan.AddSequence(
//	    exec.Source(exec.SourceOptions{Schema: scan.ProjectedSchema(), Stream: stream}),
//	    exec.Aggregate(exec.AggregateOptions{Key: "passenger_count", Measure: "trip_distance"}),
//	    exec.Sink(exec.SinkOptions{Collector: collector}),
//	)
//	if err := plan.StartProducing(ctx); err != nil {
//	    return err
//	}
//	err := exec.AllComplete(plan.Finished(), collector.Collected()).Wait(ctx)
//
// Stages run as tasks on a shared Pool and hand batches downstream over
// bounded channels. The source pulls from a RecordStream, the aggregate
// stage hash-groups rows into partial sums and counts, and the sink gathers
// whatever reaches it.
//
// The first failing task aborts the plan: the other stages stop pushing,
// queued batches are released, and both futures complete with an error
// wrapping ErrExecutionFailure. A running plan cannot be cancelled; giving
// up on Future.Wait leaves it to finish in the background.
package exec
