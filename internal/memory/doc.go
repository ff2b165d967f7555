// Package memory configures Go's soft memory limit for containers.
//
// GOMAXPROCS follows cgroup CPU limits automatically, GOMEMLIMIT does not.
// [ConfigureFromEnv] derives it from MEMORY_LIMIT (usually injected through
// the Kubernetes Downward API) and MEMORY_RATIO:
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.4"
//
// The default ratio is low because every conversion runs ffmpeg as a child
// process charged to the same container. An explicit GOMEMLIMIT always wins.
package memory
