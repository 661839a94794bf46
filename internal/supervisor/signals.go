package supervisor

import (
	"fmt"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"goodracer/internal/reactor"
)

const (
	backtraceBegin = "---------- BEGIN BACKTRACE ----------"
	backtraceEnd   = "---------- END BACKTRACE ----------"

	maxBacktraceFrames = 64
)

var callers = runtime.Callers

type signalEntry struct {
	sup *Supervisor
	w   *reactor.Signal
}

func (s *Supervisor) startSignals() error {
	for _, sig := range watchedSignals {
		e := &signalEntry{sup: s}
		e.w = s.loop.NewSignal(sig, e.handle)
		if err := e.w.Start(); err != nil {
			return &SetupError{Step: "signal " + signalName(sig), Err: err}
		}
		s.loop.Unref()
		s.signals = append(s.signals, e)
	}
	return nil
}

// stopSignals restores the reference taken away at start before stopping, so
// the loop's keep-alive count stays balanced.
func (s *Supervisor) stopSignals() {
	for _, e := range s.signals {
		s.loop.Ref()
		e.w.Stop()
	}
	s.signals = nil
}

func (e *signalEntry) handle(w *reactor.Signal, _ reactor.Events) {
	s := e.sup
	sig := w.Signum()
	s.log.Errorf("signal=%d name=%s", int(sig), signalName(sig))
	if isCrashSignal(sig) {
		s.writeBacktrace()
	}
	s.loop.Break(reactor.BreakAll)
}

// isCrashSignal is true for everything but the two polite shutdown requests.
func isCrashSignal(sig syscall.Signal) bool {
	return sig != syscall.SIGINT && sig != syscall.SIGTERM
}

func signalName(sig syscall.Signal) string {
	if sig <= 0 {
		return "unknown"
	}
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return "unknown"
}

// writeBacktrace dumps the calling goroutine's stack, without this function
// and the signal handler, to the raw stream in one write.
func (s *Supervisor) writeBacktrace() {
	pcs := make([]uintptr, maxBacktraceFrames)
	n := callers(3, pcs)
	if n == 0 {
		s.log.Warnf("No backtrace stack available")
		return
	}

	var b strings.Builder
	b.WriteString(backtraceBegin)
	b.WriteByte('\n')
	frames := runtime.CallersFrames(pcs[:n])
	for i := 0; ; i++ {
		f, more := frames.Next()
		fmt.Fprintf(&b, "#%-2d %s\n\t%s:%d\n", i, f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	b.WriteString(backtraceEnd)
	b.WriteByte('\n')
	s.log.Rawf("%s", b.String())
}
