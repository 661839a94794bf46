package gpio

import (
	"strings"
	"testing"
)

func TestOpenOutput_InvalidPin(t *testing.T) {
	for _, pin := range []int{0, -4} {
		_, err := OpenOutput(pin, "test", 1)
		if err == nil {
			t.Fatalf("pin=%d expected error", pin)
		}
		if !strings.HasPrefix(err.Error(), "gpio:") {
			t.Fatalf("pin=%d err=%q want gpio: prefix", pin, err.Error())
		}
	}
}
