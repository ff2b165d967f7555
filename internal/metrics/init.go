package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, result := range []string{"hit", "miss"} {
		StagingResolveTotal.WithLabelValues(result)
	}

	for _, backend := range []string{"json", "sqlite"} {
		StagingIndexPersistDuration.WithLabelValues(backend)
		StagingIndexPersistErrors.WithLabelValues(backend)
	}

	for _, kind := range []string{"probe", "convert"} {
		TranscoderJobDuration.WithLabelValues(kind)
		TranscoderJobsInProgress.WithLabelValues(kind)
		for _, status := range []string{"success", "rejected", "error"} {
			TranscoderJobsTotal.WithLabelValues(kind, status)
		}
	}

	for _, op := range []string{"stat", "open", "remove"} {
		FilesystemRetryAttempts.WithLabelValues(op, "staging")
		FilesystemRetrySuccess.WithLabelValues(op, "staging")
		FilesystemRetryFailures.WithLabelValues(op, "staging")
		FilesystemStaleErrors.WithLabelValues(op, "staging")
		FilesystemRetryDuration.WithLabelValues(op, "staging")
	}
}
