//go:build !linux

package stream

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
)

func openSerial(path string, baud int) (io.ReadCloser, error) {
	return serial.Open(serial.OpenOptions{
		PortName:        path,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	})
}
