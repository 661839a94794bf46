package supervisor

import (
	"encoding/hex"
	"errors"
	"io"
	"syscall"

	"goodracer/internal/gps"
	"goodracer/internal/reactor"
)

const readBufSize = 80

type watchState int

const (
	stateArmed watchState = iota
	stateReading
	stateDispatched
	stateError
)

func (st watchState) String() string {
	switch st {
	case stateArmed:
		return "armed"
	case stateReading:
		return "reading"
	case stateDispatched:
		return "dispatched"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

var errNoParser = errors.New("gps source has no parser")

type gpsWatch struct {
	sup    *Supervisor
	src    *gps.Handle
	io     *reactor.IO
	device string

	onRead  ReadFunc
	onError ErrorFunc

	state watchState
	buf   [readBufSize]byte
}

func newGPSWatch(s *Supervisor, src *gps.Handle, onRead ReadFunc, onError ErrorFunc) *gpsWatch {
	w := &gpsWatch{
		sup:     s,
		src:     src,
		device:  src.Value().Device(),
		onRead:  onRead,
		onError: onError,
	}
	w.io = s.loop.NewIO(src.Value().FD(), reactor.Read, w.readable)
	w.io.Data = w
	return w
}

// readable performs exactly one read per readiness notification.
func (w *gpsWatch) readable(_ *reactor.IO, revents reactor.Events) {
	s := w.sup
	src := w.src.Value()
	w.state = stateReading

	parser := src.Parser()
	if parser == nil {
		w.fail(src, errNoParser)
		return
	}

	n, err := src.Read(w.buf[:])
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
		n, err = 0, nil
	}
	if err == nil && n <= 0 && revents&(reactor.Hangup|reactor.Error) != 0 {
		err = io.EOF
	}
	if err != nil {
		w.fail(src, err)
		return
	}

	s.stats.Reads++
	if n <= 0 {
		s.stats.SpuriousWakes++
		s.log.Debugf("gps read returned no data fd=%d", src.FD())
		w.state = stateArmed
		return
	}
	s.stats.BytesRead += uint64(n)
	chunk := w.buf[:n]

	batch, err := parser.Parse(chunk)
	if err != nil {
		s.stats.ParseFailures++
		s.log.Warnf("gps parse failed fd=%d n=%d: %v", src.FD(), n, err)
		s.log.Rawf("%s", hex.Dump(chunk))
		parser.Reset()
		w.state = stateArmed
		return
	}
	s.log.Debugf("gps read fd=%d n=%d packets=%d", src.FD(), n, len(batch))

	if len(batch) > 0 {
		s.stats.Batches++
		s.stats.Packets += uint64(len(batch))
		w.state = stateDispatched
		if w.onRead != nil {
			w.onRead(s, src, batch)
		}
	}
	if w.state != stateError {
		w.state = stateArmed
	}
}

// fail is terminal for this watch: the descriptor is closed and the watcher
// stays stopped until the next WatchGPS.
func (w *gpsWatch) fail(src *gps.Source, err error) {
	s := w.sup
	var errno syscall.Errno
	if errors.As(err, &errno) {
		s.log.Errorf("gps read failed device=%s fd=%d errno=%d: %v", w.device, src.FD(), int(errno), err)
	} else {
		s.log.Errorf("gps read failed device=%s fd=%d: %v", w.device, src.FD(), err)
	}
	w.state = stateError
	if w.onError != nil {
		w.onError(s, src, err)
	}
	w.io.Stop()
	if cerr := src.CloseFD(); cerr != nil {
		s.log.Warnf("gps close failed device=%s: %v", w.device, cerr)
	}
}

// stop detaches the watcher and gives back the Source reference.
func (w *gpsWatch) stop() error {
	w.io.Stop()
	w.onRead = nil
	w.onError = nil
	return w.src.Release()
}
