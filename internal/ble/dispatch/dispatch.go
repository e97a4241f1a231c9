// Package dispatch routes decoded messages to per-type handlers.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/bgapi-host/internal/ble/registry"
	"github.com/chaz8081/bgapi-host/internal/metrics"
)

// Key identifies a handler slot.
type Key struct {
	Kind  registry.Kind
	Class uint8
	ID    uint8
}

func (k Key) String() string {
	return fmt.Sprintf("%s class=%d id=%d", k.Kind, k.Class, k.ID)
}

// KeyOf returns the slot a descriptor routes to.
func KeyOf(d *registry.Descriptor) Key {
	return Key{Kind: d.Kind, Class: d.Class, ID: d.ID}
}

// Handler processes one message. A returned error is logged and counted;
// it never reaches the reader.
type Handler func(msg *registry.Message) error

// Dispatcher holds one handler per key. Route invokes handlers on the
// caller's goroutine.
type Dispatcher struct {
	log     *logrus.Entry
	metrics *metrics.Metrics

	mu       sync.RWMutex
	handlers map[Key]Handler
	fallback Handler
}

// New returns a dispatcher whose unregistered messages are logged at debug
// level.
func New(log *logrus.Entry, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		log:      log.WithField("component", "dispatch"),
		metrics:  m,
		handlers: make(map[Key]Handler),
	}
	d.fallback = d.logUnhandled
	return d
}

// Handle registers h for k, replacing any earlier handler. A nil h
// restores the default.
func (d *Dispatcher) Handle(k Key, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		delete(d.handlers, k)
		return
	}
	d.handlers[k] = h
}

// SetFallback replaces the handler used for keys with no registration.
// A nil h restores debug logging.
func (d *Dispatcher) SetFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h == nil {
		h = d.logUnhandled
	}
	d.fallback = h
}

// Registered reports whether k has its own handler.
func (d *Dispatcher) Registered(k Key) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[k]
	return ok
}

// Route invokes exactly one handler for msg: the registered one, or the
// fallback. Handler errors and panics are contained here.
func (d *Dispatcher) Route(msg *registry.Message) {
	k := KeyOf(msg.Descriptor)
	d.mu.RLock()
	h, ok := d.handlers[k]
	if !ok {
		h = d.fallback
	}
	d.mu.RUnlock()

	start := time.Now()
	err := d.invoke(h, msg)
	d.metrics.ObserveHandler(time.Since(start))
	if err != nil {
		d.metrics.HandlerFailed(msg.Name())
		d.log.WithFields(logrus.Fields{
			"message": msg.Name(),
			"kind":    msg.Kind().String(),
		}).WithError(err).Warn("handler failed")
	}
}

func (d *Dispatcher) invoke(h Handler, msg *registry.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", r)
		}
	}()
	return h(msg)
}

func (d *Dispatcher) logUnhandled(msg *registry.Message) error {
	d.log.WithField("message", msg.Name()).Debugf("unhandled %s", msg)
	return nil
}
