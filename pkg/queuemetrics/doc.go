// Package queuemetrics exports job queue activity as Prometheus metrics.
//
// Two sources feed the Collector: the queue.Events hub, counted per queue, job
// type and event (plus a handler duration histogram), and broker counts per
// state polled on an interval, like a classic queue-length gauge.
//
//	collector := queuemetrics.New(queuemetrics.WithInterval(15 * time.Second))
//	if err := collector.Register(prometheus.DefaultRegisterer); err != nil {
//		return err
//	}
//	g.Go(collector.Run(ctx, manager))
//
// Metrics (with the default "backq" namespace):
//
//   - backq_job_events_total{queue,type,event}
//   - backq_job_duration_seconds{queue,type,outcome}
//   - backq_jobs{queue,state}
//   - backq_count_errors_total{queue}
//   - backq_events_dropped_total
package queuemetrics
