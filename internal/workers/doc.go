/*
Package workers sizes and runs small bounded worker pools.

Worker counts are derived from GOMAXPROCS rather than runtime.NumCPU so that
container CPU limits are respected:

	n := workers.ForIO(16) // 2 per CPU, at most 16

The staging store uses [Each] to delete expired files concurrently during a
sweep. Each waits for every item and joins all errors, so one failing
deletion never prevents the others.

Set SWEEP_WORKERS to pin the count.
*/
package workers
