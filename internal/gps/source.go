package gps

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"goodracer/internal/logging"
	"goodracer/internal/refcount"
)

const DefaultBaud = 9600

// SupportedBauds is the set of rates the receiver may be switched to.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200}

type Config struct {
	// Device is the serial device path, e.g. /dev/serial0.
	Device string
	Baud   int

	// QueryInfo asks the receiver for antenna status and firmware
	// information after opening. Replies arrive as regular sentences.
	QueryInfo bool

	Logger *logging.Logger
}

// Handle is one owner's reference to a Source.
type Handle = refcount.Ref[*Source]

type Source struct {
	mu     sync.Mutex
	fd     int
	baud   int
	device string
	parser Parser
}

var (
	openSerialFn    = openSerial
	setSerialBaudFn = setSerialBaud
	writeFn         = writeFD
	readFn          = readFD
	closeFn         = closeFD
)

// EffectiveBaud returns baud when it is supported, otherwise DefaultBaud and
// false.
func EffectiveBaud(baud int) (int, bool) {
	if baud == 0 {
		return DefaultBaud, true
	}
	for _, b := range SupportedBauds {
		if b == baud {
			return baud, true
		}
	}
	return DefaultBaud, false
}

// Open opens the serial receiver at the default rate, creates its parser,
// switches the rate when asked and optionally queries the receiver. On error
// nothing stays open.
func Open(cfg Config) (*Handle, error) {
	log := cfg.Logger
	device := strings.TrimSpace(cfg.Device)
	if device == "" {
		return nil, errors.New("gps: device path is required")
	}

	baud, ok := EffectiveBaud(cfg.Baud)
	if !ok {
		log.Warnf("gps baud rate %d not supported, using %d", cfg.Baud, DefaultBaud)
	}

	fd, err := openSerialFn(device, DefaultBaud)
	if err != nil {
		return nil, fmt.Errorf("gps: open %s: %w", device, err)
	}
	src := &Source{fd: fd, baud: DefaultBaud, device: device, parser: NewNMEAParser()}

	if baud != DefaultBaud {
		if err := src.switchBaud(baud); err != nil {
			log.Warnf("gps unable to set baud rate %d, continuing at %d: %v", baud, DefaultBaud, err)
		} else {
			log.Infof("gps baud rate set to %d", baud)
		}
	}

	if cfg.QueryInfo {
		if err := src.queryInfo(); err != nil {
			log.Warnf("gps info query failed device=%s: %v", device, err)
		}
	}

	log.Debugf("gps opened device=%s fd=%d baud=%d", device, fd, src.baud)
	return refcount.New(src, (*Source).close), nil
}

// NewSource wraps an already open non-blocking descriptor.
func NewSource(fd int, baud int, parser Parser) (*Handle, error) {
	if fd < 0 {
		return nil, fmt.Errorf("gps: invalid fd %d", fd)
	}
	if parser == nil {
		parser = NewNMEAParser()
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	src := &Source{fd: fd, baud: baud, device: fmt.Sprintf("fd:%d", fd), parser: parser}
	return refcount.New(src, (*Source).close), nil
}

// switchBaud asks the receiver to change rate, then follows it on our side.
func (s *Source) switchBaud(baud int) error {
	cmd := Sentence(fmt.Sprintf("PMTK251,%d", baud))
	if _, err := s.Write([]byte(cmd)); err != nil {
		return err
	}
	if err := setSerialBaudFn(s.FD(), baud); err != nil {
		return err
	}
	s.mu.Lock()
	s.baud = baud
	s.mu.Unlock()
	return nil
}

func (s *Source) queryInfo() error {
	for _, payload := range []string{
		"PGCMD,33,1", // antenna status reports on
		"PMTK605",    // firmware release
	} {
		if _, err := s.Write([]byte(Sentence(payload))); err != nil {
			return err
		}
	}
	return nil
}

// FD returns the descriptor, or -1 once closed.
func (s *Source) FD() int {
	if s == nil {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fd
}

func (s *Source) Baud() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baud
}

func (s *Source) Device() string {
	return s.device
}

func (s *Source) Parser() Parser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parser
}

// Read performs one non-blocking read.
func (s *Source) Read(p []byte) (int, error) {
	fd := s.FD()
	if fd < 0 {
		return 0, os.ErrClosed
	}
	return readFn(fd, p)
}

func (s *Source) Write(p []byte) (int, error) {
	fd := s.FD()
	if fd < 0 {
		return 0, os.ErrClosed
	}
	return writeFn(fd, p)
}

// CloseFD closes the descriptor but keeps the Source alive for its owners.
func (s *Source) CloseFD() error {
	s.mu.Lock()
	fd := s.fd
	s.fd = -1
	s.mu.Unlock()
	if fd < 0 {
		return nil
	}
	return closeFn(fd)
}

func (s *Source) close() error {
	s.mu.Lock()
	s.parser = nil
	s.mu.Unlock()
	return s.CloseFD()
}
