// Package logging provides the leveled logger used across speelycaptor.
//
// Levels, from most to least verbose:
//   - DEBUG: subprocess arguments, sweep details, route tables
//   - INFO: lifecycle events and key allocation
//   - WARN: recoverable problems (failed file deletions during a sweep)
//   - ERROR: failed requests and index persistence errors
//   - FATAL: startup failures; the process exits
//
// The level is read once from DEBUG or LOG_LEVEL and can be changed at
// runtime with [SetLevel].
package logging
