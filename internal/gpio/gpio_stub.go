//go:build !linux

package gpio

import "fmt"

func OpenOutput(pin int, consumer string, initial int) (Output, error) {
	return nil, fmt.Errorf("gpio: unsupported on this platform")
}
