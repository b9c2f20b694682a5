//go:build !linux || (!arm && !arm64)

package stream

import "fmt"

func openWakeup(pin int) (wakeupLine, error) {
	return nil, fmt.Errorf("stream: wakeup gpio unsupported on this platform")
}

var openWakeupFn = openWakeup
