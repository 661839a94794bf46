package gps

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"goodracer/internal/logging"
)

type fakePort struct {
	opened   []int
	setBauds []int
	setErr   error
	written  bytes.Buffer
	closed   int
}

func useFakePort(t *testing.T, port *fakePort) {
	t.Helper()
	oldOpen, oldSet, oldWrite, oldRead, oldClose := openSerialFn, setSerialBaudFn, writeFn, readFn, closeFn
	openSerialFn = func(path string, baud int) (int, error) {
		port.opened = append(port.opened, baud)
		return 42, nil
	}
	setSerialBaudFn = func(fd, baud int) error {
		if port.setErr != nil {
			return port.setErr
		}
		port.setBauds = append(port.setBauds, baud)
		return nil
	}
	writeFn = func(fd int, p []byte) (int, error) {
		return port.written.Write(p)
	}
	readFn = func(fd int, p []byte) (int, error) {
		return 0, nil
	}
	closeFn = func(fd int) error {
		port.closed++
		return nil
	}
	t.Cleanup(func() {
		openSerialFn, setSerialBaudFn, writeFn, readFn, closeFn = oldOpen, oldSet, oldWrite, oldRead, oldClose
	})
}

func TestEffectiveBaud(t *testing.T) {
	cases := []struct {
		in   int
		want int
		ok   bool
	}{
		{in: 0, want: 9600, ok: true},
		{in: 9600, want: 9600, ok: true},
		{in: 38400, want: 38400, ok: true},
		{in: 115200, want: 115200, ok: true},
		{in: 4800, want: 9600, ok: false},
		{in: 12345, want: 9600, ok: false},
	}
	for _, tc := range cases {
		got, ok := EffectiveBaud(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("EffectiveBaud(%d)=%d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestOpen_DefaultBaudNoSwitch(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)

	h, err := Open(Config{Device: "/dev/serial0"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	src := h.Value()
	if src.FD() != 42 || src.Baud() != DefaultBaud || src.Device() != "/dev/serial0" {
		t.Fatalf("fd=%d baud=%d device=%q", src.FD(), src.Baud(), src.Device())
	}
	if src.Parser() == nil {
		t.Fatalf("expected parser")
	}
	if len(port.opened) != 1 || port.opened[0] != DefaultBaud {
		t.Fatalf("opened=%v want [%d]", port.opened, DefaultBaud)
	}
	if len(port.setBauds) != 0 || port.written.Len() != 0 {
		t.Fatalf("unexpected switch: set=%v written=%q", port.setBauds, port.written.String())
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if port.closed != 1 {
		t.Fatalf("closed=%d want 1", port.closed)
	}
	if src.FD() != -1 || src.Parser() != nil {
		t.Fatalf("source not torn down: fd=%d", src.FD())
	}
}

func TestOpen_SwitchesBaud(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)

	h, err := Open(Config{Device: "/dev/serial0", Baud: 38400})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release()

	if h.Value().Baud() != 38400 {
		t.Fatalf("baud=%d want 38400", h.Value().Baud())
	}
	if len(port.setBauds) != 1 || port.setBauds[0] != 38400 {
		t.Fatalf("set=%v want [38400]", port.setBauds)
	}
	if got, want := port.written.String(), Sentence("PMTK251,38400"); got != want {
		t.Fatalf("written=%q want %q", got, want)
	}
}

func TestOpen_UnsupportedBaudStaysDefault(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)
	var logBuf bytes.Buffer

	h, err := Open(Config{Device: "/dev/serial0", Baud: 4800, Logger: logging.New(&logBuf, logging.LevelDebug)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release()

	if h.Value().Baud() != DefaultBaud || len(port.setBauds) != 0 {
		t.Fatalf("baud=%d set=%v", h.Value().Baud(), port.setBauds)
	}
	if !strings.Contains(logBuf.String(), "not supported") {
		t.Fatalf("expected warning, got %q", logBuf.String())
	}
}

func TestOpen_SwitchFailureKeepsDefault(t *testing.T) {
	port := &fakePort{setErr: errors.New("tcsetattr")}
	useFakePort(t, port)

	h, err := Open(Config{Device: "/dev/serial0", Baud: 115200})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release()
	if h.Value().Baud() != DefaultBaud {
		t.Fatalf("baud=%d want %d", h.Value().Baud(), DefaultBaud)
	}
}

func TestOpen_QueryInfo(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)

	h, err := Open(Config{Device: "/dev/serial0", QueryInfo: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Release()
	want := Sentence("PGCMD,33,1") + Sentence("PMTK605")
	if port.written.String() != want {
		t.Fatalf("written=%q want %q", port.written.String(), want)
	}
}

func TestOpen_Errors(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)
	if _, err := Open(Config{Device: "  "}); err == nil {
		t.Fatalf("expected error for empty device")
	}

	openSerialFn = func(string, int) (int, error) { return -1, os.ErrNotExist }
	_, err := Open(Config{Device: "/dev/ttyX"})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v want ErrNotExist", err)
	}
	if port.closed != 0 {
		t.Fatalf("nothing should be closed, got %d", port.closed)
	}
}

func TestNewSource(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)

	if _, err := NewSource(-1, 0, nil); err == nil {
		t.Fatalf("expected error for negative fd")
	}

	h, err := NewSource(7, 0, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	src := h.Value()
	if src.Baud() != DefaultBaud || src.Parser() == nil || src.Device() != "fd:7" {
		t.Fatalf("baud=%d device=%q", src.Baud(), src.Device())
	}

	c, err := h.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if port.closed != 0 {
		t.Fatalf("closed before last owner released")
	}
	if err := c.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if port.closed != 1 {
		t.Fatalf("closed=%d want 1", port.closed)
	}
}

func TestSource_CloseFDIdempotent(t *testing.T) {
	port := &fakePort{}
	useFakePort(t, port)
	h, err := NewSource(7, 0, nil)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	src := h.Value()
	if err := src.CloseFD(); err != nil {
		t.Fatalf("CloseFD: %v", err)
	}
	if err := src.CloseFD(); err != nil {
		t.Fatalf("CloseFD: %v", err)
	}
	if _, err := src.Read(make([]byte, 4)); !errors.Is(err, os.ErrClosed) {
		t.Fatalf("Read err=%v want ErrClosed", err)
	}
	if err := h.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if port.closed != 1 {
		t.Fatalf("closed=%d want 1", port.closed)
	}
}
