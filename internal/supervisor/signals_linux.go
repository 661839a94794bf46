package supervisor

import "syscall"

var watchedSignals = []syscall.Signal{
	syscall.SIGSEGV,
	syscall.SIGINT,
	syscall.SIGABRT,
	syscall.SIGHUP,
	syscall.SIGILL,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGPWR,
	syscall.SIGFPE,
}
