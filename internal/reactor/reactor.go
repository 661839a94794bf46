// Package reactor is a single-goroutine event loop. Watchers bind a file
// descriptor or an OS signal to a callback; Run dispatches them on the calling
// goroutine until the loop is broken or no referenced watcher is left.
//
// Signal delivery never runs user code directly: the notification only sets a
// pending bit and wakes the loop, and the callbacks run from Run like any
// other event.
package reactor

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// Events is a readiness bitmask.
type Events uint32

const (
	Read Events = 1 << iota
	Write
	Hangup
	Error
	SignalEvent
)

func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if e&Read != 0 {
		add("read")
	}
	if e&Write != 0 {
		add("write")
	}
	if e&Hangup != 0 {
		add("hup")
	}
	if e&Error != 0 {
		add("err")
	}
	if e&SignalEvent != 0 {
		add("signal")
	}
	return s
}

// BreakHow selects how far Break unwinds.
type BreakHow int32

const (
	BreakCancel BreakHow = iota
	BreakOne
	BreakAll
)

var (
	ErrClosed  = errors.New("reactor: loop is closed")
	ErrRunning = errors.New("reactor: loop already running")
)

var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

const maxSignal = 64

type IOFunc func(w *IO, revents Events)

type SignalFunc func(w *Signal, revents Events)

type pollEvent struct {
	fd     int
	events Events
	wake   bool
}

type poller interface {
	add(fd int, events Events) error
	del(fd int) error
	// wait blocks until at least one event is ready. Interrupted waits are
	// retried internally.
	wait(out []pollEvent) (int, error)
	wake() error
	drainWake()
	close() error
}

var newPollerFn = newPoller

type Loop struct {
	p poller

	mu     sync.Mutex
	ios    map[int]*IO
	sigs   map[syscall.Signal][]*Signal
	active int

	notified map[syscall.Signal]bool
	sigCh    chan os.Signal
	sigDone  chan struct{}

	pending  atomic.Uint64
	breakHow atomic.Int32
	closed   atomic.Bool
	running  atomic.Bool

	events []pollEvent
}

// New creates an independent loop. Close releases its descriptors.
func New() (*Loop, error) {
	p, err := newPollerFn()
	if err != nil {
		return nil, fmt.Errorf("reactor: init: %w", err)
	}
	l := &Loop{
		p:        p,
		ios:      map[int]*IO{},
		sigs:     map[syscall.Signal][]*Signal{},
		notified: map[syscall.Signal]bool{},
		sigCh:    make(chan os.Signal, maxSignal),
		sigDone:  make(chan struct{}),
		events:   make([]pollEvent, 16),
	}
	go l.forwardSignals()
	return l, nil
}

func (l *Loop) forwardSignals() {
	defer close(l.sigDone)
	for sig := range l.sigCh {
		if s, ok := sig.(syscall.Signal); ok {
			l.FeedSignal(s)
		}
	}
}

// Close stops signal delivery and releases the poller. Watchers still
// registered are dropped without callbacks.
func (l *Loop) Close() error {
	if l == nil {
		return nil
	}
	if l.closed.Swap(true) {
		return nil
	}
	signalStop(l.sigCh)
	close(l.sigCh)
	<-l.sigDone

	l.mu.Lock()
	for _, w := range l.ios {
		w.active = false
	}
	for _, ws := range l.sigs {
		for _, w := range ws {
			w.active = false
		}
	}
	l.ios = map[int]*IO{}
	l.sigs = map[syscall.Signal][]*Signal{}
	l.active = 0
	l.mu.Unlock()

	return l.p.close()
}

// Run dispatches events until Break is called or no referenced watcher is
// active. Any break requested before Run starts is discarded. The returned status is the number of referenced watchers still
// active when the loop stopped.
func (l *Loop) Run() (int, error) {
	if l == nil {
		return -1, errors.New("reactor: loop is nil")
	}
	if l.closed.Load() {
		return -1, ErrClosed
	}
	if l.running.Swap(true) {
		return -1, ErrRunning
	}
	defer l.running.Store(false)
	// A Break from before this Run does not carry over.
	l.breakHow.Store(int32(BreakCancel))
	defer l.breakHow.Store(int32(BreakCancel))

	for {
		l.dispatchSignals()
		if l.broken() || l.ActiveCount() <= 0 {
			break
		}

		n, err := l.p.wait(l.events)
		if err != nil {
			return l.ActiveCount(), fmt.Errorf("reactor: wait: %w", err)
		}
		for i := 0; i < n; i++ {
			ev := l.events[i]
			if ev.wake {
				l.p.drainWake()
				continue
			}
			if l.broken() {
				break
			}
			w := l.lookupIO(ev.fd)
			if w == nil {
				continue
			}
			w.cb(w, ev.events)
		}
	}
	return l.ActiveCount(), nil
}

// Break makes Run return after the current callback. Safe from any goroutine.
func (l *Loop) Break(how BreakHow) {
	if l == nil || l.closed.Load() {
		return
	}
	l.breakHow.Store(int32(how))
	_ = l.p.wake()
}

// FeedSignal marks sig pending as if the OS had delivered it. Safe from any
// goroutine; it only touches an atomic bitmask and the wake descriptor.
func (l *Loop) FeedSignal(sig syscall.Signal) bool {
	if l == nil || sig <= 0 || sig > maxSignal || l.closed.Load() {
		return false
	}
	bit := uint64(1) << uint(sig-1)
	l.pending.Or(bit)
	_ = l.p.wake()
	return true
}

// Ref and Unref adjust the keep-alive count without starting or stopping a
// watcher. An unreferenced watcher still fires but does not keep Run alive.
func (l *Loop) Ref() {
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
}

func (l *Loop) Unref() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
}

// ActiveCount is the keep-alive count.
func (l *Loop) ActiveCount() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Loop) broken() bool {
	return BreakHow(l.breakHow.Load()) != BreakCancel
}

func (l *Loop) lookupIO(fd int) *IO {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.ios[fd]
	if w == nil || !w.active {
		return nil
	}
	return w
}

func (l *Loop) dispatchSignals() {
	bits := l.pending.Swap(0)
	if bits == 0 {
		return
	}
	for i := 0; i < maxSignal; i++ {
		if bits&(uint64(1)<<uint(i)) == 0 {
			continue
		}
		sig := syscall.Signal(i + 1)
		l.mu.Lock()
		ws := append([]*Signal(nil), l.sigs[sig]...)
		l.mu.Unlock()
		for _, w := range ws {
			if !w.Active() {
				continue
			}
			w.cb(w, SignalEvent)
		}
	}
}

// IO watches one descriptor for readiness.
type IO struct {
	loop   *Loop
	fd     int
	events Events
	cb     IOFunc
	active bool

	// Data is free for the owner of the watcher.
	Data any
}

func (l *Loop) NewIO(fd int, events Events, cb IOFunc) *IO {
	return &IO{loop: l, fd: fd, events: events, cb: cb}
}

func (w *IO) FD() int { return w.fd }

func (w *IO) Active() bool {
	if w == nil || w.loop == nil {
		return false
	}
	w.loop.mu.Lock()
	defer w.loop.mu.Unlock()
	return w.active
}

func (w *IO) Start() error {
	if w == nil || w.loop == nil || w.cb == nil {
		return errors.New("reactor: invalid io watcher")
	}
	l := w.loop
	if l.closed.Load() {
		return ErrClosed
	}
	if w.fd < 0 {
		return fmt.Errorf("reactor: invalid fd %d", w.fd)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.active {
		return nil
	}
	if other := l.ios[w.fd]; other != nil && other.active {
		return fmt.Errorf("reactor: fd %d already watched", w.fd)
	}
	if err := l.p.add(w.fd, w.events); err != nil {
		return fmt.Errorf("reactor: watch fd %d: %w", w.fd, err)
	}
	l.ios[w.fd] = w
	w.active = true
	l.active++
	return nil
}

// Stop is a no-op on an inactive watcher. The descriptor may already be
// closed; the poller forgets closed descriptors on its own.
func (w *IO) Stop() {
	if w == nil || w.loop == nil {
		return
	}
	l := w.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if !w.active {
		return
	}
	w.active = false
	if l.ios[w.fd] == w {
		delete(l.ios, w.fd)
	}
	l.active--
	if !l.closed.Load() {
		_ = l.p.del(w.fd)
	}
}

// Signal watches one OS signal.
type Signal struct {
	loop   *Loop
	signum syscall.Signal
	cb     SignalFunc
	active bool

	Data any
}

func (l *Loop) NewSignal(sig syscall.Signal, cb SignalFunc) *Signal {
	return &Signal{loop: l, signum: sig, cb: cb}
}

func (w *Signal) Signum() syscall.Signal { return w.signum }

func (w *Signal) Active() bool {
	if w == nil || w.loop == nil {
		return false
	}
	w.loop.mu.Lock()
	defer w.loop.mu.Unlock()
	return w.active
}

func (w *Signal) Start() error {
	if w == nil || w.loop == nil || w.cb == nil {
		return errors.New("reactor: invalid signal watcher")
	}
	if w.signum <= 0 || w.signum > maxSignal {
		return fmt.Errorf("reactor: invalid signal %d", int(w.signum))
	}
	l := w.loop
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if w.active {
		return nil
	}
	if !l.notified[w.signum] {
		signalNotify(l.sigCh, w.signum)
		l.notified[w.signum] = true
	}
	l.sigs[w.signum] = append(l.sigs[w.signum], w)
	w.active = true
	l.active++
	return nil
}

// Stop detaches the watcher. Delivery of the signal to the process stays
// redirected to the loop until Close.
func (w *Signal) Stop() {
	if w == nil || w.loop == nil {
		return
	}
	l := w.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if !w.active {
		return
	}
	w.active = false
	ws := l.sigs[w.signum]
	for i, o := range ws {
		if o == w {
			l.sigs[w.signum] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	l.active--
}
