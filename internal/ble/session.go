// Package ble is a host-side engine for BGAPI Bluetooth Low Energy dongles
// (BLED112 and friends). A Session owns the serial link, encodes commands
// from the message catalog, and decodes incoming responses and events into
// per-type handlers.
//
// Commands never wait for their response. The response arrives through a
// later ReadMessage call, which processes exactly one frame and runs its
// handler on the caller's goroutine.
package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/bgapi-host/internal/ble/dispatch"
	"github.com/chaz8081/bgapi-host/internal/ble/protocol"
	"github.com/chaz8081/bgapi-host/internal/ble/registry"
	"github.com/chaz8081/bgapi-host/internal/metrics"
	"github.com/chaz8081/bgapi-host/internal/transport"
)

var (
	ErrNotConnected     = errors.New("ble: not connected")
	ErrAlreadyConnected = errors.New("ble: already connected")
	// ErrCommandPending means the same command is still awaiting its
	// response. The protocol does not pipeline commands of one type.
	ErrCommandPending = errors.New("ble: command already pending")
	ErrTimeout        = errors.New("ble: read timeout")
	// ErrReentrant is returned by ReadMessage when called from a handler.
	ErrReentrant = errors.New("ble: ReadMessage called from a handler")

	ErrConnection       = transport.ErrConnection
	ErrIO               = transport.ErrIO
	ErrFrameTooLarge    = protocol.ErrFrameTooLarge
	ErrUnknownMessage   = registry.ErrUnknownMessage
	ErrTruncatedPayload = registry.ErrTruncatedPayload
	ErrFieldMismatch    = registry.ErrFieldMismatch
)

type (
	Message = registry.Message
	Fields  = registry.Fields
	Handler = dispatch.Handler
)

// Conn is the byte stream a Session drives. *transport.Port implements it.
type Conn interface {
	Write(b []byte) error
	// ReadAvailable returns the bytes that arrived within timeout, or an
	// error wrapping transport.ErrTimeout when none did.
	ReadAvailable(timeout time.Duration) ([]byte, error)
	Close() error
}

var _ Conn = (*transport.Port)(nil)

// DialFunc opens the named port.
type DialFunc func(port string) (Conn, error)

// SerialDialer opens ports through the transport package using cfg as the
// template for line settings.
func SerialDialer(cfg transport.Config) DialFunc {
	return func(port string) (Conn, error) {
		c := cfg
		c.Port = port
		return transport.Open(c)
	}
}

// Options configures a Session.
type Options struct {
	Dial     DialFunc
	Registry *registry.Registry
	// MaxPayload bounds the declared length of incoming frames.
	MaxPayload int
	// ResponseTimeout is how long a command counts as pending without a
	// response before it may be re-issued.
	ResponseTimeout time.Duration
	// Background moves serial reads to a goroutine feeding a queue;
	// handlers still run only inside ReadMessage.
	Background bool
	QueueHint  int
	// ReadSlice is how long one background read waits before checking for
	// shutdown.
	ReadSlice time.Duration
	// ResetDelay is the pause between system_reset and the first reopen.
	ResetDelay time.Duration
	// ResetTimeout bounds the whole reopen loop of ResetConnect.
	ResetTimeout time.Duration
	// ReconnectMax caps the backoff between reopen attempts.
	ReconnectMax time.Duration

	Logger  *logrus.Entry
	Metrics *metrics.Metrics
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxPayload:      protocol.DefaultMaxPayload,
		ResponseTimeout: 2 * time.Second,
		QueueHint:       64,
		ReadSlice:       100 * time.Millisecond,
		ResetDelay:      time.Second,
		ResetTimeout:    10 * time.Second,
		ReconnectMax:    2 * time.Second,
	}
}

// Session is one host's conversation with one dongle.
type Session struct {
	opts    Options
	log     *logrus.Entry
	codec   *protocol.Codec
	disp    *dispatch.Dispatcher
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    Conn
	port    string
	bg      *backgroundReader
	framer  *protocol.Framer // replaced on every Connect
	pending map[dispatch.Key]time.Time

	// readMu serializes ReadMessage. dispatching is set while a handler runs.
	readMu      sync.Mutex
	dispatching atomic.Bool
}

// New creates a disconnected session. Zero option fields take their
// defaults.
func New(opts Options) *Session {
	def := DefaultOptions()
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = def.MaxPayload
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	if opts.QueueHint <= 0 {
		opts.QueueHint = def.QueueHint
	}
	if opts.ReadSlice <= 0 {
		opts.ReadSlice = def.ReadSlice
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = def.ResetDelay
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = def.ResetTimeout
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Dial == nil {
		opts.Dial = SerialDialer(transport.Config{Log: log})
	}

	return &Session{
		opts:    opts,
		log:     log.WithField("component", "session"),
		codec:   protocol.NewCodec(opts.Registry),
		disp:    dispatch.New(log, opts.Metrics),
		metrics: opts.Metrics,
		pending: make(map[dispatch.Key]time.Time),
	}
}

// Registry is the catalog the session encodes and decodes with.
func (s *Session) Registry() *registry.Registry { return s.codec.Registry() }

// Connect opens port. The session must be disconnected.
func (s *Session) Connect(port string) error {
	if s.Connected() {
		return ErrAlreadyConnected
	}
	conn, err := s.opts.Dial(port)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		conn.Close()
		return ErrAlreadyConnected
	}
	s.conn = conn
	s.port = port
	s.framer = protocol.NewFramer(s.opts.MaxPayload)
	clear(s.pending)
	if s.opts.Background {
		s.bg = startBackgroundReader(conn, s.opts, s.log, s.metrics)
	}
	s.metrics.SetConnected(true)
	s.log.WithFields(logrus.Fields{"port": port, "background": s.opts.Background}).Info("connected")
	return nil
}

// Disconnect closes the transport. It is safe to call when already
// disconnected, and from another goroutine while ReadMessage is blocked.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn, bg, port := s.conn, s.bg, s.port
	s.conn, s.bg, s.port = nil, nil, ""
	clear(s.pending)
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if bg != nil {
		bg.stop()
	}
	err := conn.Close()
	if bg != nil {
		bg.wait()
	}
	s.metrics.SetConnected(false)
	s.log.WithField("port", port).Info("disconnected")
	return err
}

// Connected reports whether a transport is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Port is the device path of the open transport, or "".
func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// ReadMessage processes exactly one frame or fails with ErrTimeout when
// none completes within timeout. Bytes that complete no frame keep the
// call reading until the budget is spent. A frame that cannot be decoded
// is dropped and its error returned (ErrUnknownMessage,
// ErrTruncatedPayload); the stream stays usable and the caller simply
// reads again. Transport failures wrap ErrIO.
//
// Handlers may send commands, Disconnect and Connect. A ReadMessage made
// while a handler is running returns ErrReentrant.
func (s *Session) ReadMessage(timeout time.Duration) error {
	if s.dispatching.Load() {
		return ErrReentrant
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	s.mu.Lock()
	conn, bg, framer := s.conn, s.bg, s.framer
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	if bg != nil {
		return s.readQueued(bg, deadline)
	}
	return s.readDirect(conn, framer, deadline)
}

func (s *Session) readDirect(conn Conn, framer *protocol.Framer, deadline time.Time) error {
	for {
		fr, err := framer.Next()
		if err == nil {
			return s.process(fr)
		}
		if !errors.Is(err, protocol.ErrIncomplete) {
			s.resync(err)
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.metrics.ReadTimeout()
			return ErrTimeout
		}
		data, err := conn.ReadAvailable(remaining)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return err
		}
		s.metrics.Received(len(data))
		framer.Write(data)
	}
}

func (s *Session) readQueued(bg *backgroundReader, deadline time.Time) error {
	for {
		it, err := bg.next(deadline)
		if errors.Is(err, ErrTimeout) {
			s.metrics.ReadTimeout()
			return err
		}
		if err != nil {
			return err
		}
		switch {
		case it.err == nil:
			return s.process(it.frame)
		case errors.Is(it.err, protocol.ErrFrameTooLarge), errors.Is(it.err, protocol.ErrInvalidHeader):
			s.resync(it.err)
		default:
			return it.err
		}
	}
}

// resync records a header the framer skipped past.
func (s *Session) resync(err error) {
	reason := "invalid_header"
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		reason = "frame_too_large"
	}
	s.metrics.DecodeError(reason)
	s.log.WithError(err).Warn("resynchronizing stream")
}

func (s *Session) process(fr protocol.Frame) error {
	msg, err := s.codec.Decode(fr)
	if err != nil {
		reason := "decode"
		switch {
		case errors.Is(err, registry.ErrUnknownMessage):
			reason = "unknown_message"
		case errors.Is(err, registry.ErrTruncatedPayload):
			reason = "truncated_payload"
		}
		s.metrics.DecodeError(reason)
		s.log.WithField("header", fr.Header.String()).WithError(err).Warn("dropping frame")
		return err
	}

	s.metrics.FrameReceived(msg.Kind().String())
	if msg.Kind() == registry.KindResponse {
		s.mu.Lock()
		delete(s.pending, dispatch.Key{Kind: registry.KindCommand, Class: fr.Header.Class, ID: fr.Header.ID})
		s.mu.Unlock()
	}
	if s.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
		s.log.Tracef("<- %s", msg)
	}
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	s.disp.Route(msg)
	return nil
}

// Run calls ReadMessage until ctx is cancelled, treating timeouts and
// malformed frames as routine. Cancellation disconnects the session before
// Run returns ctx.Err(). Any other failure is returned as is.
func (s *Session) Run(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			s.Disconnect()
			return err
		}
		err := s.ReadMessage(poll)
		switch {
		case err == nil,
			errors.Is(err, ErrTimeout),
			errors.Is(err, ErrUnknownMessage),
			errors.Is(err, ErrTruncatedPayload):
			continue
		}
		if ctx.Err() != nil {
			s.Disconnect()
			return ctx.Err()
		}
		return err
	}
}

// send encodes and writes one command. Commands of the same type may not
// overlap: a second one fails with ErrCommandPending until the first is
// answered or ResponseTimeout passes.
func (s *Session) send(d *registry.Descriptor, values registry.Fields) error {
	raw, err := s.codec.EncodeMessage(d, values)
	if err != nil {
		return err
	}

	k := dispatch.KeyOf(d)
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if !d.NoResponse {
		if sent, busy := s.pending[k]; busy && time.Since(sent) < s.opts.ResponseTimeout {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrCommandPending, d.Name)
		}
		s.pending[k] = time.Now()
	}
	s.mu.Unlock()

	if err := conn.Write(raw); err != nil {
		s.mu.Lock()
		delete(s.pending, k)
		s.mu.Unlock()
		return err
	}
	s.metrics.FrameSent(len(raw))
	s.log.WithField("message", d.Name).Debugf("-> %x", raw)
	return nil
}

// Pending reports whether the named command is awaiting its response.
func (s *Session) Pending(name string) bool {
	d, err := s.codec.Registry().Lookup(name, registry.KindCommand)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sent, ok := s.pending[dispatch.KeyOf(d)]
	return ok && time.Since(sent) < s.opts.ResponseTimeout
}

// Send issues any catalog command by name.
func (s *Session) Send(name string, values Fields) error {
	d, err := s.codec.Registry().Lookup(name, registry.KindCommand)
	if err != nil {
		return err
	}
	return s.send(d, values)
}

// SetHandler installs h for one message type, replacing the previous
// handler. A nil h restores the default, which only logs.
func (s *Session) SetHandler(kind registry.Kind, class, id uint8, h Handler) {
	s.disp.Handle(dispatch.Key{Kind: kind, Class: class, ID: id}, h)
}

// OnResponse installs h for the response to the named command.
func (s *Session) OnResponse(name string, h Handler) error {
	return s.onNamed(name, registry.KindResponse, h)
}

// OnEvent installs h for the named event.
func (s *Session) OnEvent(name string, h Handler) error {
	return s.onNamed(name, registry.KindEvent, h)
}

// OnUnhandled replaces the default handler for message types with no
// registration.
func (s *Session) OnUnhandled(h Handler) {
	s.disp.SetFallback(h)
}

func (s *Session) onNamed(name string, kind registry.Kind, h Handler) error {
	d, err := s.codec.Registry().Lookup(name, kind)
	if err != nil {
		return err
	}
	s.disp.Handle(dispatch.KeyOf(d), h)
	return nil
}
