package gps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const gpsdDefaultAddr = "127.0.0.1:2947"

var gpsdDialTimeout = 2 * time.Second

// DialGPSD connects to gpsd and switches the session to raw NMEA passthrough,
// so the socket is watched exactly like a serial receiver. gpsd's JSON
// banner lines are skipped by the parser as noise.
func DialGPSD(ctx context.Context, addr string) (*Handle, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = gpsdDefaultAddr
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d := &net.Dialer{Timeout: gpsdDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("gps: gpsd dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := gpsdWatchNMEA(conn); err != nil {
		return nil, fmt.Errorf("gps: gpsd watch: %w", err)
	}
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, errors.New("gps: gpsd connection is not tcp")
	}
	f, err := tcp.File()
	if err != nil {
		return nil, fmt.Errorf("gps: gpsd socket: %w", err)
	}
	defer f.Close()

	fd, err := dupNonblock(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("gps: gpsd socket: %w", err)
	}
	h, err := NewSource(fd, 0, nil)
	if err != nil {
		_ = closeFn(fd)
		return nil, err
	}
	h.Value().device = "gpsd:" + addr
	return h, nil
}

func gpsdWatchNMEA(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"nmea\":true}\n"))
	return err
}
