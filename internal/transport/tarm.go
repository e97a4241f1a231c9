package transport

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// tarmDriver wraps github.com/tarm/serial, whose read timeout is fixed when
// the port is opened. Longer waits are served by reading in slices.
type tarmDriver struct {
	port io.ReadWriteCloser
	now  func() time.Time
}

func openTarm(cfg Config) (driver, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Parity:      serial.ParityNone,
		ReadTimeout: cfg.ReadSlice,
	})
	if err != nil {
		return nil, err
	}
	return &tarmDriver{port: port, now: time.Now}, nil
}

func (d *tarmDriver) read(p []byte, timeout time.Duration) (int, error) {
	deadline := d.now().Add(timeout)
	for {
		n, err := d.port.Read(p)
		// A read timeout surfaces as io.EOF with no data.
		if err != nil && !errors.Is(err, io.EOF) {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if !d.now().Before(deadline) {
			return 0, nil
		}
	}
}

func (d *tarmDriver) write(p []byte) (int, error) {
	return d.port.Write(p)
}

func (d *tarmDriver) close() error {
	return d.port.Close()
}
