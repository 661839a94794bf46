//go:build !linux

package supervisor

import "syscall"

// No SIGPWR outside Linux.
var watchedSignals = []syscall.Signal{
	syscall.SIGSEGV,
	syscall.SIGINT,
	syscall.SIGABRT,
	syscall.SIGHUP,
	syscall.SIGILL,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGFPE,
}
