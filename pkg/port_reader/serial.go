package port_reader

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
)

// SerialOpener opens real serial devices with 8N1 framing.
type SerialOpener struct {
	Baudrate uint
}

func (o SerialOpener) Open(port string) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:        port,
		BaudRate:        o.Baudrate,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 1,
	}
	return serial.Open(options)
}

type flusher interface {
	Flush() error
}

// flush discards whatever the driver buffered before we started reading,
// usually the tail of a line cut in half.
func flush(port io.ReadWriteCloser) error {
	if f, ok := port.(flusher); ok {
		return f.Flush()
	}
	if f, ok := port.(interface{ Fd() uintptr }); ok {
		return flushFd(f.Fd())
	}
	return nil
}
