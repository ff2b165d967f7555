/*
Package streaming sends staged files to clients without letting a slow or
vanished client hold a handler goroutine forever.

TimeoutWriter wraps an http.ResponseWriter with a per-write timeout, an idle
timeout, an optional cap on the whole transfer and chunked flushing. Stream
is the usual entry point:

	f, _ := os.Open(path)
	defer f.Close()
	info, _ := f.Stat()
	_, err := streaming.Stream(r.Context(), w, f, info.Size(), streaming.DefaultConfig())
	if err != nil && !streaming.IsClientError(err) {
		logging.Error("pull failed: %v", err)
	}

Once headers are sent a failure cannot change the status code, so callers
only log it. ErrClientGone, ErrWriteTimeout and ErrStreamCanceled can be
told apart with errors.Is.
*/
package streaming
