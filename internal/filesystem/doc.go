/*
Package filesystem wraps the file operations performed on the staging root
(stat, open, remove) with retry logic for NFS stale file handle errors.

The staging root is often a mounted volume shared with the container host.
ESTALE (errno 116) is retried with exponential backoff; every other error
is returned immediately.

	cfg := filesystem.DefaultRetryConfig()
	f, err := filesystem.OpenWithRetry(path, cfg)

Defaults: 3 retries, 50ms initial backoff, 500ms cap.

Metrics are reported through an [Observer] registered with [SetObserver];
without one, recording is skipped.
*/
package filesystem
