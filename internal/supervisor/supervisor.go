// Package supervisor ties the reactor, the crash/shutdown signal watchers,
// the shared display and the GPS read watcher together.
//
// A Supervisor is driven from one goroutine: every callback it invokes runs
// from Run, never concurrently. Resources handed to it are cloned, so the
// caller keeps and releases its own references independently.
package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"goodracer/internal/display"
	"goodracer/internal/gps"
	"goodracer/internal/logging"
	"goodracer/internal/reactor"
)

var (
	ErrInvalidArgument = errors.New("supervisor: invalid argument")
	ErrClosed          = errors.New("supervisor: closed")
)

// SetupError reports which setup step failed. Nothing allocated by New
// survives it.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("supervisor: setup %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ReadFunc receives every non-empty packet batch. The batch is only valid for
// the duration of the call.
type ReadFunc func(s *Supervisor, src *gps.Source, batch []gps.Packet)

// ErrorFunc is called once when the GPS read fails. The watch is torn down
// afterwards; a new WatchGPS call is needed to resume.
type ErrorFunc func(s *Supervisor, src *gps.Source, err error)

// Stats are counters kept by the GPS watcher.
type Stats struct {
	Reads         uint64
	BytesRead     uint64
	SpuriousWakes uint64
	ParseFailures uint64
	Batches       uint64
	Packets       uint64
}

type Option func(*Supervisor)

// WithOwnedLoop makes Close (and a failing New) close the reactor.
func WithOwnedLoop() Option {
	return func(s *Supervisor) { s.ownsLoop = true }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

type Supervisor struct {
	loop     *reactor.Loop
	ownsLoop bool
	log      *logging.Logger

	signals []*signalEntry
	display *display.Handle
	gps     *gpsWatch

	stats   Stats
	started time.Time

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New registers the crash and shutdown signal watchers on loop. The watchers
// do not keep the loop alive on their own.
func New(loop *reactor.Loop, opts ...Option) (*Supervisor, error) {
	if loop == nil {
		return nil, &SetupError{Step: "reactor", Err: ErrInvalidArgument}
	}
	s := &Supervisor{
		loop:    loop,
		log:     logging.Nop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ok := false
	defer func() {
		if ok {
			return
		}
		s.stopSignals()
		if s.ownsLoop {
			_ = s.loop.Close()
		}
	}()

	if err := s.startSignals(); err != nil {
		return nil, err
	}

	ok = true
	s.log.Debugf("supervisor ready signals=%d", len(s.signals))
	return s, nil
}

// Run dispatches events on the calling goroutine until a signal or Break
// stops the loop, or nothing referenced is left to watch. It returns the
// number of referenced watchers still active.
func (s *Supervisor) Run() (int, error) {
	if s == nil {
		return -1, ErrInvalidArgument
	}
	if s.closed {
		return -1, ErrClosed
	}
	return s.loop.Run()
}

// Close stops the GPS watch, drops the Supervisor's display and GPS
// references and detaches the signal watchers. It is safe on nil and only
// acts once. Not safe to call concurrently with Run.
func (s *Supervisor) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed = true
		s.closeErr = s.cleanup()
	})
	return s.closeErr
}

func (s *Supervisor) cleanup() error {
	var errs []error
	if s.gps != nil {
		if err := s.gps.stop(); err != nil {
			errs = append(errs, fmt.Errorf("release gps: %w", err))
		}
		s.gps = nil
	}
	if s.display != nil {
		if err := s.display.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release display: %w", err))
		}
		s.display = nil
	}
	s.stopSignals()
	s.logSummary()
	if s.ownsLoop {
		if err := s.loop.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) logSummary() {
	st := s.stats
	s.log.Infof("supervisor stopped uptime=%s reads=%d bytes=%s packets=%d batches=%d parse_failures=%d spurious=%d",
		time.Since(s.started).Round(time.Second), st.Reads, humanize.Bytes(st.BytesRead),
		st.Packets, st.Batches, st.ParseFailures, st.SpuriousWakes)
}

// SetDisplay drops the current display reference, if any, and keeps a new
// reference on d.
func (s *Supervisor) SetDisplay(d *display.Handle) error {
	if s == nil || d == nil {
		return ErrInvalidArgument
	}
	if s.closed {
		return ErrClosed
	}
	if s.display != nil {
		old := s.display
		s.display = nil
		if err := old.Release(); err != nil {
			s.log.Warnf("display release failed: %v", err)
		}
	}
	ref, err := d.Clone()
	if err != nil {
		return fmt.Errorf("supervisor: display: %w", err)
	}
	s.display = ref
	return nil
}

// WatchGPS arms a read watcher on src. An existing watch is stopped and its
// Source reference released first. Either callback may be nil. A Source whose
// read has failed cannot be watched again, not even from its onError.
func (s *Supervisor) WatchGPS(src *gps.Handle, onRead ReadFunc, onError ErrorFunc) error {
	if s == nil || src == nil || src.Value() == nil {
		return ErrInvalidArgument
	}
	if s.closed {
		return ErrClosed
	}
	if s.gps != nil && s.gps.state == stateError && s.gps.src.Value() == src.Value() {
		// Called from onError: the descriptor is about to be closed.
		return fmt.Errorf("%w: gps source %s has failed", ErrInvalidArgument, s.gps.device)
	}
	fd := src.Value().FD()
	if fd < 0 {
		return fmt.Errorf("%w: gps descriptor %d", ErrInvalidArgument, fd)
	}

	if s.gps != nil {
		old := s.gps
		s.gps = nil
		if err := old.stop(); err != nil {
			s.log.Warnf("gps release failed device=%s: %v", old.device, err)
		}
	}

	ref, err := src.Clone()
	if err != nil {
		return fmt.Errorf("supervisor: gps: %w", err)
	}
	w := newGPSWatch(s, ref, onRead, onError)
	if err := w.io.Start(); err != nil {
		_ = ref.Release()
		return fmt.Errorf("supervisor: gps watch fd=%d: %w", fd, err)
	}
	s.gps = w
	s.log.Debugf("gps watch armed device=%s fd=%d", w.device, fd)
	return nil
}

// Display returns the display currently held, or nil.
func (s *Supervisor) Display() *display.Device {
	if s == nil || s.display == nil {
		return nil
	}
	return s.display.Value()
}

// GPS returns the watched source, or nil.
func (s *Supervisor) GPS() *gps.Source {
	if s == nil || s.gps == nil {
		return nil
	}
	return s.gps.src.Value()
}

// Stats is a snapshot of the watcher counters. Call it from the Run goroutine
// or after Run returned.
func (s *Supervisor) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return s.stats
}

func (s *Supervisor) Loop() *reactor.Loop {
	if s == nil {
		return nil
	}
	return s.loop
}

func (s *Supervisor) Logger() *logging.Logger {
	if s == nil {
		return nil
	}
	return s.log
}
