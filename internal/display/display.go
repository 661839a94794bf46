// Package display drives an SSD1306 OLED over I2C.
//
// A Device owns the bus handle, an optional reset line and a 1-bit
// framebuffer. It is shared through a Handle; the last Release turns the panel
// off, drops the framebuffer and closes the bus.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"goodracer/internal/gpio"
	"goodracer/internal/i2c"
	"goodracer/internal/refcount"
)

const (
	DefaultBus    = "/dev/i2c-1"
	DefaultAddr   = 0x3C
	DefaultWidth  = 128
	DefaultHeight = 64

	ctrlCommand = 0x00
	ctrlData    = 0x40

	// StatusDisplayOff is set in the status byte while the panel is off.
	StatusDisplayOff = 0x40
)

type Config struct {
	Bus    string
	Addr   uint16
	Width  int
	Height int

	// ResetPin is the BCM GPIO wired to the panel RST input. 0 means none.
	ResetPin int
}

// Handle is one owner's reference to a Device.
type Handle = refcount.Ref[*Device]

type transport interface {
	Write(p []byte) error
}

// statusReader is a transport that can also read from the controller.
type statusReader interface {
	WriteRead(w, r []byte) error
}

var openBusFn = func(path string, addr uint16) (transport, io.Closer, error) {
	bus, err := i2c.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dev, err := bus.Dev(addr)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	return dev, bus, nil
}

var openResetFn = gpio.OpenOutput

var sleep = time.Sleep

type Device struct {
	cfg Config

	mu    sync.Mutex
	dev   transport
	bus   io.Closer
	reset gpio.Output
	fb    *image1bit.VerticalLSB
}

// Open acquires the panel in order: bus, reset pulse, initialization, clear,
// framebuffer. A failure at any step releases what was acquired before it.
func Open(cfg Config) (*Handle, error) {
	if strings.TrimSpace(cfg.Bus) == "" {
		return nil, errors.New("display: i2c bus path is required")
	}
	if cfg.Addr == 0 {
		cfg.Addr = DefaultAddr
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Width < 1 || cfg.Width > 128 {
		return nil, fmt.Errorf("display: width %d out of range 1..128", cfg.Width)
	}
	if cfg.Height < 8 || cfg.Height > 64 || cfg.Height%8 != 0 {
		return nil, fmt.Errorf("display: height %d must be a multiple of 8 in 8..64", cfg.Height)
	}

	d := &Device{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = d.close()
		}
	}()

	dev, bus, err := openBusFn(cfg.Bus, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("display: open %s addr=0x%02X: %w", cfg.Bus, cfg.Addr, err)
	}
	d.dev = dev
	d.bus = bus

	if cfg.ResetPin > 0 {
		rst, err := openResetFn(cfg.ResetPin, "goodracer-oled", 1)
		if err != nil {
			return nil, fmt.Errorf("display: reset line: %w", err)
		}
		d.reset = rst
		if err := d.pulseReset(); err != nil {
			return nil, fmt.Errorf("display: reset pulse: %w", err)
		}
	}

	if err := d.command(initSequence(cfg.Height)...); err != nil {
		return nil, fmt.Errorf("display: initialize failed, check that it is connected: %w", err)
	}
	if err := d.push(make([]byte, cfg.Width*cfg.Height/8)); err != nil {
		return nil, fmt.Errorf("display: clear: %w", err)
	}

	d.fb = image1bit.NewVerticalLSB(image.Rect(0, 0, cfg.Width, cfg.Height))

	ok = true
	return refcount.New(d, (*Device).close), nil
}

func initSequence(h int) []byte {
	comPins := byte(0x12)
	if h <= 32 {
		comPins = 0x02
	}
	return []byte{
		0xAE,            // display off
		0xD5, 0x80,      // clock divide
		0xA8, byte(h-1), // multiplex ratio
		0xD3, 0x00,      // display offset
		0x40,            // start line 0
		0x8D, 0x14,      // charge pump on
		0x20, 0x00,      // horizontal addressing
		0xA1,            // segment remap
		0xC8,            // COM scan descending
		0xDA, comPins,   // COM pins
		0x81, 0xCF,      // contrast
		0xD9, 0xF1,      // precharge
		0xDB, 0x40,      // VCOMH
		0xA4,            // resume from RAM
		0xA6,            // not inverted
		0xAF,            // display on
	}
}

func (d *Device) pulseReset() error {
	if err := d.reset.SetValue(0); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	if err := d.reset.SetValue(1); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	return nil
}

func (d *Device) command(cmds ...byte) error {
	if d.dev == nil {
		return errors.New("display: device not open")
	}
	buf := make([]byte, 0, len(cmds)+1)
	buf = append(buf, ctrlCommand)
	buf = append(buf, cmds...)
	return d.dev.Write(buf)
}

// push writes a full frame starting at column 0, page 0.
func (d *Device) push(pix []byte) error {
	w, h := d.cfg.Width, d.cfg.Height
	if err := d.command(0x21, 0, byte(w-1), 0x22, 0, byte(h/8-1)); err != nil {
		return err
	}
	buf := make([]byte, 0, len(pix)+1)
	buf = append(buf, ctrlData)
	buf = append(buf, pix...)
	return d.dev.Write(buf)
}

// Status reads the controller status byte.
func (d *Device) Status() (byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return 0, errors.New("display: closed")
	}
	sr, ok := d.dev.(statusReader)
	if !ok {
		return 0, errors.New("display: transport cannot read status")
	}
	var b [1]byte
	if err := sr.WriteRead(nil, b[:]); err != nil {
		return 0, fmt.Errorf("display: read status: %w", err)
	}
	return b[0], nil
}

func (d *Device) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.cfg.Width, d.cfg.Height)
}

// Framebuffer is drawn into by the caller and sent with Update.
func (d *Device) Framebuffer() *image1bit.VerticalLSB {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fb
}

// Update sends the framebuffer to the panel.
func (d *Device) Update() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return errors.New("display: closed")
	}
	return d.push(d.fb.Pix)
}

// Clear blanks both the framebuffer and the panel.
func (d *Device) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return errors.New("display: closed")
	}
	for i := range d.fb.Pix {
		d.fb.Pix[i] = 0
	}
	return d.push(d.fb.Pix)
}

// DrawLines renders text lines top-down with the 7x13 bitmap font and
// updates the panel. Lines that do not fit are dropped.
func (d *Device) DrawLines(lines []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fb == nil {
		return errors.New("display: closed")
	}
	draw.Draw(d.fb, d.fb.Bounds(), &image.Uniform{C: image1bit.Off}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	dr := font.Drawer{
		Dst:  d.fb,
		Src:  &image.Uniform{C: image1bit.On},
		Face: face,
	}
	for i, line := range lines {
		baseline := (i+1)*face.Height - face.Descent
		if baseline > d.cfg.Height {
			break
		}
		dr.Dot = fixed.P(0, baseline)
		dr.DrawString(line)
	}
	return d.push(d.fb.Pix)
}

func (d *Device) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	d.fb = nil
	if d.dev != nil {
		// Best-effort: panel off before letting go of the bus.
		_ = d.command(0xAE)
		d.dev = nil
	}
	if d.reset != nil {
		if err := d.reset.Close(); err != nil {
			errs = append(errs, err)
		}
		d.reset = nil
	}
	if d.bus != nil {
		if err := d.bus.Close(); err != nil {
			errs = append(errs, err)
		}
		d.bus = nil
	}
	return errors.Join(errs...)
}
