//go:build linux

// Package rtsched requests real-time round-robin scheduling for the
// calling thread (spec.md §5): settling-time sleeps and the
// move-then-read ordering must not be perturbed by scheduler jitter. This
// is best-effort — a non-root process will typically fail here, and that
// failure must never abort startup.
package rtsched

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedParam mirrors struct sched_param from <sched.h>; x/sys/unix does
// not wrap sched_setscheduler itself, so this package goes through the
// raw syscall the way platform-specific device code elsewhere in the
// pack does for inotify and mount.
type schedParam struct {
	priority int32
}

// EnableRoundRobin requests SCHED_RR at the given priority for pid 0. On
// Linux this sets the policy of the calling OS thread only; other threads
// of the process keep their scheduling class. Errors are returned to the
// caller but are intentionally non-fatal: callers should warn and continue.
func EnableRoundRobin(priority int) error {
	param := schedParam{priority: int32(priority)}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_RR), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}

// MaxRoundRobinPriority returns the highest priority value valid for
// SCHED_RR on this system, via sched_get_priority_max.
func MaxRoundRobinPriority() (int, error) {
	r1, _, errno := unix.Syscall(unix.SYS_SCHED_GET_PRIORITY_MAX, uintptr(unix.SCHED_RR), 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}
