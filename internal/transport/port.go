// Package transport owns the serial link to the BLE dongle. It moves raw
// bytes only; frame assembly happens in the protocol package.
package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrConnection = errors.New("transport: connection error")
	ErrIO         = errors.New("transport: i/o error")
	ErrTimeout    = errors.New("transport: timeout")
)

const (
	DefaultBaudRate  = 115200
	DefaultDriver    = "bugst"
	DefaultReadSlice = 100 * time.Millisecond

	readBufSize = 512
)

// Config selects and configures the serial device. Line settings are
// applied once, in Open.
type Config struct {
	Port     string
	BaudRate int
	// Driver is "bugst" (go.bug.st/serial) or "tarm" (github.com/tarm/serial).
	Driver string
	// ReadSlice is the per-read timeout for drivers whose timeout is fixed
	// at open time. ReadAvailable loops in slices until its budget is spent.
	ReadSlice time.Duration
	// DTR and RTS set the initial modem control lines (bugst only).
	DTR, RTS bool

	Log *logrus.Entry
}

// driver is the raw device. read returns (0, nil) when nothing arrived
// within timeout.
type driver interface {
	read(p []byte, timeout time.Duration) (int, error)
	write(p []byte) (int, error)
	close() error
}

type opener func(cfg Config) (driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]opener{
		"bugst": openBugst,
		"tarm":  openTarm,
	}
)

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (opener, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	o, ok := drivers[strings.ToLower(name)]
	return o, ok
}

// Port is an open serial link. Writes and reads may come from different
// goroutines; concurrent reads are serialized.
type Port struct {
	name string
	drv  driver
	log  *logrus.Entry

	closed atomic.Bool
	readMu sync.Mutex
	buf    []byte
}

// Open opens the device described by cfg.
func Open(cfg Config) (*Port, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: no port given", ErrConnection)
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.ReadSlice <= 0 {
		cfg.ReadSlice = DefaultReadSlice
	}
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"component": "transport", "port": cfg.Port})

	open, ok := lookupDriver(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("%w: unknown driver %q (have %s)", ErrConnection, cfg.Driver, strings.Join(Drivers(), ", "))
	}
	drv, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConnection, cfg.Port, err)
	}
	log.WithFields(logrus.Fields{"baud": cfg.BaudRate, "driver": cfg.Driver}).Info("port opened")
	return &Port{
		name: cfg.Port,
		drv:  drv,
		log:  log,
		buf:  make([]byte, readBufSize),
	}, nil
}

// Name is the device path the port was opened with.
func (p *Port) Name() string { return p.name }

// Write sends all of b or fails with ErrIO.
func (p *Port) Write(b []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("%w: write on closed port", ErrIO)
	}
	n, err := p.drv.write(b)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: short write (%d of %d bytes)", ErrIO, n, len(b))
	}
	return nil
}

// ReadAvailable waits up to timeout for bytes and returns what arrived in
// the first successful read. It fails with ErrTimeout when nothing came.
func (p *Port) ReadAvailable(timeout time.Duration) ([]byte, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if p.closed.Load() {
		return nil, fmt.Errorf("%w: read on closed port", ErrIO)
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	n, err := p.drv.read(p.buf, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrIO, err)
	}
	if n == 0 {
		return nil, ErrTimeout
	}
	out := make([]byte, n)
	copy(out, p.buf[:n])
	return out, nil
}

// Close releases the device. Closing twice is a no-op.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := p.drv.close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrConnection, p.name, err)
	}
	p.log.Info("port closed")
	return nil
}
