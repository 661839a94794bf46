//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Linux I2C transport backed by /dev/i2c-*. Transfers go through I2C_RDWR so
// a whole display page or framebuffer is one bus transaction.

const (
	i2cMrd  = 0x0001
	i2cRdwr = 0x0707

	// i2c-dev rejects messages longer than this.
	maxMsgLen = 8192
)

type msg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type rdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an opened adapter such as /dev/i2c-1. It is not safe for concurrent
// transfers.
type Bus struct {
	f    *os.File
	path string
}

func Open(path string) (*Bus, error) {
	path = filepath.Clean(path)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &Bus{f: f, path: path}, nil
}

func (b *Bus) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

func (b *Bus) Close() error {
	if b == nil || b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev binds a 7-bit address on the bus.
func (b *Bus) Dev(addr uint16) (*Dev, error) {
	if b == nil {
		return nil, errors.New("i2c: bus is nil")
	}
	if !ValidAddr(addr) {
		return nil, fmt.Errorf("invalid i2c addr 0x%X", addr)
	}
	return &Dev{bus: b, addr: addr}, nil
}

// ValidAddr reports whether addr is a usable 7-bit address.
func ValidAddr(addr uint16) bool {
	return addr != 0 && addr <= 0x7F
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Addr() uint16 {
	if d == nil {
		return 0
	}
	return d.addr
}

func (d *Dev) Write(p []byte) error {
	_, err := d.tx(p, nil)
	return err
}

func (d *Dev) WriteRead(w, r []byte) error {
	_, err := d.tx(w, r)
	return err
}

func (d *Dev) tx(w, r []byte) (int, error) {
	if d == nil || d.bus == nil || d.bus.f == nil {
		return 0, errors.New("i2c device is nil")
	}
	if !ValidAddr(d.addr) {
		return 0, fmt.Errorf("invalid i2c addr 0x%X", d.addr)
	}
	if len(w) > maxMsgLen || len(r) > maxMsgLen {
		return 0, fmt.Errorf("i2c: transfer too long (%d/%d > %d)", len(w), len(r), maxMsgLen)
	}

	msgs := make([]msg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, msg{addr: d.addr, flags: 0, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, msg{addr: d.addr, flags: i2cMrd, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	data := rdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), uintptr(i2cRdwr), uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return 0, errno
	}
	if len(r) > 0 {
		return len(r), nil
	}
	return len(w), nil
}
