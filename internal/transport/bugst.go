package transport

import (
	"time"

	"go.bug.st/serial"
)

type bugstDriver struct {
	port    serial.Port
	timeout time.Duration
}

func openBugst(cfg Config) (driver, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: cfg.DTR,
			RTS: cfg.RTS,
		},
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, err
	}
	return &bugstDriver{port: port}, nil
}

func (d *bugstDriver) read(p []byte, timeout time.Duration) (int, error) {
	if timeout != d.timeout {
		if err := d.port.SetReadTimeout(timeout); err != nil {
			return 0, err
		}
		d.timeout = timeout
	}
	// Read returns 0, nil once the timeout expires.
	return d.port.Read(p)
}

func (d *bugstDriver) write(p []byte) (int, error) {
	return d.port.Write(p)
}

func (d *bugstDriver) close() error {
	return d.port.Close()
}
