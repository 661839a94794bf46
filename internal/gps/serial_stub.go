//go:build !linux

package gps

import (
	"fmt"
	"syscall"
)

func openSerial(path string, baud int) (int, error) {
	return -1, fmt.Errorf("gps serial not supported on this platform")
}

func setSerialBaud(fd int, baud int) error {
	return fmt.Errorf("gps serial not supported on this platform")
}

func readFD(fd int, p []byte) (int, error) { return syscall.Read(fd, p) }

func writeFD(fd int, p []byte) (int, error) { return syscall.Write(fd, p) }

func closeFD(fd int) error { return syscall.Close(fd) }

func dupNonblock(fd int) (int, error) {
	nfd, err := syscall.Dup(fd)
	if err != nil {
		return -1, err
	}
	syscall.CloseOnExec(nfd)
	if err := syscall.SetNonblock(nfd, true); err != nil {
		_ = syscall.Close(nfd)
		return -1, err
	}
	return nfd, nil
}
