//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// OpenOutput requests the BCM GPIO pin as an output through the GPIO
// character device, searching every chip for a line named "GPIO<pin>".
func OpenOutput(pin int, consumer string, initial int) (Output, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	if consumer == "" {
		consumer = "goodracer"
	}

	lineName := fmt.Sprintf("GPIO%d", pin)

	// Pi 5 kernels expose the header on gpiochip4 on some releases.
	chipCandidates := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "gpiochip") {
			chipCandidates = append(chipCandidates, filepath.Join("/dev", name))
		}
	}

	for _, chipPath := range chipCandidates {
		chip, err := gpiocdev.NewChip(chipPath)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(initial), gpiocdev.WithConsumer(consumer))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &cdevOutput{chip: chip, line: line}, nil
	}

	return nil, fmt.Errorf("gpio: line %q not found (or busy)", lineName)
}

type cdevOutput struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (o *cdevOutput) SetValue(v int) error {
	if o == nil || o.line == nil {
		return fmt.Errorf("gpio: line not open")
	}
	return o.line.SetValue(v)
}

func (o *cdevOutput) Close() error {
	if o == nil || o.line == nil {
		return nil
	}
	err := o.line.Close()
	o.line = nil
	if o.chip != nil {
		_ = o.chip.Close()
		o.chip = nil
	}
	return err
}
