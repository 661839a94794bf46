// Package udp relays NMEA sentences to a network peer (NMEA 0183 over UDP,
// conventionally port 10110).
package udp

import (
	"fmt"
	"net"
	"strings"
)

const DefaultPort = 10110

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Forwarder struct {
	dest string
	conn udpConn

	sent   uint64
	failed uint64
}

// NewForwarder dials dest. A missing port means DefaultPort.
func NewForwarder(dest string) (*Forwarder, error) {
	return newForwarder(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return nil, fmt.Errorf("udp: destination is required")
	}
	if _, _, err := net.SplitHostPort(dest); err != nil {
		dest = net.JoinHostPort(dest, fmt.Sprint(DefaultPort))
	}
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{dest: dest, conn: conn}, nil
}

func (f *Forwarder) Dest() string { return f.dest }

// Send writes one datagram. Empty payloads are skipped.
func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := f.conn.Write(payload); err != nil {
		f.failed++
		return err
	}
	f.sent++
	return nil
}

// SendSentences packs CRLF-terminated sentences into a single datagram.
func (f *Forwarder) SendSentences(raw []string) error {
	n := 0
	for _, s := range raw {
		n += len(s) + 2
	}
	buf := make([]byte, 0, n)
	for _, s := range raw {
		buf = append(buf, s...)
		buf = append(buf, '\r', '\n')
	}
	return f.Send(buf)
}

// Counts returns datagrams sent and failed writes.
func (f *Forwarder) Counts() (sent, failed uint64) {
	return f.sent, f.failed
}

func (f *Forwarder) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}
