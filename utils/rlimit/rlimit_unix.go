//go:build !windows

package rlimit

import (
	"syscall"
)

// Logger is satisfied by the service loggers.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Raise lifts the soft limit on the number of open files to the hard
// limit. The filesystem backend holds a descriptor per in-flight upload
// and download.
func Raise(log Logger) {
	var limits syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limits)
	if err != nil {
		log.Printf("Failed to find rlimit from getrlimit: %v", err)
		return
	}

	if limits.Cur == limits.Max {
		return
	}

	log.Printf("Raising RLIMIT_NOFILE cur: %d to max: %d", limits.Cur, limits.Max)
	limits.Cur = limits.Max

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &limits)
	if err != nil {
		log.Printf("Failed to set rlimit: %v", err)
	}
}
