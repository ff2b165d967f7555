// Package transcoder runs FFmpeg tooling as child processes.
//
// It provides:
//   - Validate: ffprobe based checks that an upload is a video of bounded duration
//   - Convert: an ffmpeg run with caller supplied arguments and a watchdog timeout
//   - Cleanup: termination of every running child at shutdown
//
// Arguments are always passed to exec directly; no shell is involved, so a
// caller supplied argument string can only ever become ffmpeg arguments.
// The binaries default to ffmpeg and ffprobe on PATH.
package transcoder
