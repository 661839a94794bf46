//go:build !linux

package reactor

import "fmt"

func newPoller() (poller, error) {
	return nil, fmt.Errorf("reactor: unsupported OS (need linux)")
}
