//go:build linux && (arm || arm64)

package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openWakeup drives the given BCM GPIO high until Close.
func openWakeup(pin int) (wakeupLine, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("stream: invalid wakeup gpio %d", pin)
	}
	lineName := fmt.Sprintf("GPIO%d", pin)

	chips := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chips = append(chips, filepath.Join("/dev", e.Name()))
		}
	}

	for _, path := range chips {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(lineName)
		if err != nil {
			_ = chip.Close()
			continue
		}
		line, err := chip.RequestLine(offset, gpiocdev.AsOutput(1), gpiocdev.WithConsumer("gnss-bridge-wakeup"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &gpioWakeup{chip: chip, line: line}, nil
	}
	return nil, fmt.Errorf("stream: gpio line %q not found (or busy)", lineName)
}

var openWakeupFn = openWakeup

type gpioWakeup struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

func (g *gpioWakeup) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	if g.chip != nil {
		_ = g.chip.Close()
		g.chip = nil
	}
	return err
}
