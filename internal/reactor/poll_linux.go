//go:build linux

package reactor

import (
	"encoding/binary"
	"errors"

	"golang.org/x/sys/unix"
)

// epoll backend. An eventfd is registered next to the watched descriptors so
// Break and FeedSignal can interrupt epoll_wait from another goroutine.
type epoller struct {
	epfd int
	efd  int
	buf  []unix.EpollEvent
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		_ = unix.Close(efd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epoller{epfd: epfd, efd: efd}, nil
}

func (p *epoller) add(fd int, events Events) error {
	ev := unix.EpollEvent{Fd: int32(fd)}
	if events&Read != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if events&Write != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epoller) del(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOENT) {
		return nil
	}
	return err
}

func (p *epoller) wait(out []pollEvent) (int, error) {
	if cap(p.buf) < len(out) {
		p.buf = make([]unix.EpollEvent, len(out))
	}
	buf := p.buf[:len(out)]
	for {
		n, err := unix.EpollWait(p.epfd, buf, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		for i := 0; i < n; i++ {
			out[i] = translate(buf[i], p.efd)
		}
		return n, nil
	}
}

func translate(ev unix.EpollEvent, efd int) pollEvent {
	fd := int(ev.Fd)
	if fd == efd {
		return pollEvent{fd: fd, wake: true}
	}
	var e Events
	if ev.Events&unix.EPOLLIN != 0 {
		e |= Read
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		e |= Write
	}
	if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		e |= Hangup
	}
	if ev.Events&unix.EPOLLERR != 0 {
		e |= Error
	}
	return pollEvent{fd: fd, events: e}
}

func (p *epoller) wake() error {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	_, err := unix.Write(p.efd, b[:])
	if errors.Is(err, unix.EAGAIN) {
		// Counter saturated; the loop is already due to wake.
		return nil
	}
	return err
}

func (p *epoller) drainWake() {
	var b [8]byte
	_, _ = unix.Read(p.efd, b[:])
}

func (p *epoller) close() error {
	err1 := unix.Close(p.efd)
	err2 := unix.Close(p.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}
