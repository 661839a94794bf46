//go:build linux

package gps

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// openSerial opens path non-blocking in raw mode at baud. The descriptor is
// meant for readiness-driven reads, so VMIN/VTIME are zero.
func openSerial(path string, baud int) (int, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK | unix.O_CLOEXEC
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return -1, err
	}

	// Best-effort: if anything below fails, close fd.
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return -1, err
	}

	// Raw-ish mode (minimal line processing) for NMEA.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := applyBaud(t, baud); err != nil {
		return -1, err
	}
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return -1, err
	}
	ok = true
	return fd, nil
}

// setSerialBaud waits for pending output to drain, then switches the line
// rate.
func setSerialBaud(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	if err := applyBaud(t, baud); err != nil {
		return err
	}
	// TCSETSW applies the change after the baud command left the UART.
	return unix.IoctlSetTermios(fd, unix.TCSETSW, t)
}

func applyBaud(t *unix.Termios, baud int) error {
	spd, err := baudToUnix(baud)
	if err != nil {
		return err
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd
	return nil
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}

func readFD(fd int, p []byte) (int, error) { return unix.Read(fd, p) }

func writeFD(fd int, p []byte) (int, error) { return unix.Write(fd, p) }

func closeFD(fd int) error { return unix.Close(fd) }

// dupNonblock duplicates fd into a close-on-exec, non-blocking descriptor
// owned by the caller.
func dupNonblock(fd int) (int, error) {
	nfd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}
