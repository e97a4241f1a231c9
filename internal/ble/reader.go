package ble

import (
	"errors"
	"time"

	"github.com/golang-collections/go-datastructures/queue"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/bgapi-host/internal/ble/protocol"
	"github.com/chaz8081/bgapi-host/internal/metrics"
	"github.com/chaz8081/bgapi-host/internal/transport"
)

// readItem is one framer result or transport failure, in wire order.
type readItem struct {
	frame protocol.Frame
	err   error
}

// backgroundReader drains the transport on its own goroutine so bytes are
// pulled off the device promptly. Assembled frames go through a FIFO that
// ReadMessage consumes one item at a time; it is the only consumer, so
// handlers still run in wire order and never concurrently.
type backgroundReader struct {
	conn    Conn
	framer  *protocol.Framer
	slice   time.Duration
	log     *logrus.Entry
	metrics *metrics.Metrics

	q      *queue.Queue
	signal chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

func startBackgroundReader(conn Conn, opts Options, log *logrus.Entry, m *metrics.Metrics) *backgroundReader {
	b := &backgroundReader{
		conn:    conn,
		framer:  protocol.NewFramer(opts.MaxPayload),
		slice:   opts.ReadSlice,
		log:     log.WithField("component", "reader"),
		metrics: m,
		q:       queue.New(int64(opts.QueueHint)),
		signal:  make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *backgroundReader) run() {
	defer close(b.done)
	for {
		select {
		case <-b.quit:
			return
		default:
		}

		data, err := b.conn.ReadAvailable(b.slice)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			select {
			case <-b.quit:
				return
			default:
			}
			b.put(readItem{err: err})
			// Avoid spinning on a port that keeps failing.
			select {
			case <-b.quit:
				return
			case <-time.After(b.slice):
			}
			continue
		}
		b.metrics.Received(len(data))
		for fr, ferr := range b.framer.Feed(data) {
			b.put(readItem{frame: fr, err: ferr})
		}
	}
}

func (b *backgroundReader) put(it readItem) {
	if err := b.q.Put(it); err != nil {
		// Disposed during shutdown.
		return
	}
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// next returns the oldest queued item, waiting until deadline. It fails
// with ErrTimeout when nothing arrives and ErrNotConnected once the reader
// has stopped and the queue is drained.
func (b *backgroundReader) next(deadline time.Time) (readItem, error) {
	for {
		if b.q.Len() > 0 {
			items, err := b.q.Get(1)
			if err != nil || len(items) == 0 {
				return readItem{}, ErrNotConnected
			}
			return items[0].(readItem), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return readItem{}, ErrTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-b.signal:
		case <-timer.C:
		case <-b.done:
			if b.q.Len() == 0 {
				timer.Stop()
				return readItem{}, ErrNotConnected
			}
		}
		timer.Stop()
	}
}

// stop asks the goroutine to exit. The caller closes the transport to
// unblock a read in progress, then calls wait.
func (b *backgroundReader) stop() {
	close(b.quit)
}

func (b *backgroundReader) wait() {
	<-b.done
	b.q.Dispose()
	b.log.Debug("background reader stopped")
}
