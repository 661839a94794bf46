//go:build linux

package main

import (
	"errors"
	"io"
	"testing"

	"golang.org/x/sys/unix"

	"goodracer/internal/display"
	"goodracer/internal/gps"
)

func TestRun_GPSEndOfStreamStopsWithError(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("Pipe2: %v", err)
	}
	if _, err := unix.Write(p[1], []byte(gps.Sentence(ggaPayload))); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := unix.Close(p[1]); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var src *gps.Handle
	oldGPS, oldDisp := openGPSFn, openDisplayFn
	t.Cleanup(func() { openGPSFn, openDisplayFn = oldGPS, oldDisp })
	openGPSFn = func(cfg gps.Config) (*gps.Handle, error) {
		h, err := gps.NewSource(p[0], cfg.Baud, nil)
		src = h
		return h, err
	}
	openDisplayFn = func(display.Config) (*display.Handle, error) {
		t.Fatalf("display must not be opened with --no-display")
		return nil, nil
	}

	err := run(newRootCmd(), options{noDisplay: true})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err=%v want EOF", err)
	}
	if src == nil || src.Count() != 0 {
		t.Fatalf("gps source not fully released")
	}
}
