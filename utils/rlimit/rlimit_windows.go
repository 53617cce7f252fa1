//go:build windows

package rlimit

// Logger is satisfied by the service loggers.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Raise is a no-op on windows, which has no RLIMIT_NOFILE.
func Raise(Logger) {
}
