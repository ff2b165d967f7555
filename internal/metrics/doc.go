// Package metrics provides Prometheus instrumentation for speelycaptor.
//
// All metrics are registered with the default registry through promauto and
// are prefixed with "speelycaptor_". Mount promhttp.Handler() on the metrics
// server to expose them.
//
// # Metric Categories
//
//   - HTTP: request totals, durations and in-flight requests, recorded by
//     the middleware package.
//   - Staging: index size, allocations, releases, key lookups, sweep counts,
//     evictions, sweep failures and index persistence latency per backend.
//   - Transcoder: ffprobe and ffmpeg jobs by kind and status, durations and
//     jobs in progress.
//   - Filesystem: ESTALE retries performed by the filesystem package through
//     the observer returned by [NewFilesystemObserver].
//   - Runtime and build information.
//
// # Collector
//
// [Collector] polls a [StatsProvider] (the staging store) on an interval and
// refreshes the gauges that cannot be maintained incrementally:
//
//	collector := metrics.NewCollector(store, 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Conversion failure ratio:
//
//	sum(rate(speelycaptor_transcoder_jobs_total{kind="convert",status="error"}[5m]))
//	/ sum(rate(speelycaptor_transcoder_jobs_total{kind="convert"}[5m]))
//
// Evictions per sweep:
//
//	rate(speelycaptor_staging_sweep_evictions_total[1h]) / rate(speelycaptor_staging_sweeps_total[1h])
package metrics
