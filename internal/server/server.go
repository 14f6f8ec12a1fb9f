// Package server implements the transfer protocol engine: request parsing
// and option negotiation on the rendezvous socket, per-session windowed
// read/write state machines, and teardown driven by router notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/a-wai/tqftpserv/internal/fabric"
	"github.com/a-wai/tqftpserv/internal/observability"
	"github.com/a-wai/tqftpserv/internal/storage"
	"github.com/a-wai/tqftpserv/internal/wire"
)

// Well-known identity of the transfer service on the fabric.
const (
	ServiceID       = uint32(4096)
	ServiceVersion  = uint32(1)
	ServiceInstance = uint32(0)
)

const rendezvousBufSize = 4096

// Server multiplexes every live transfer session over one dispatcher
// goroutine. Per-socket receive loops feed datagrams into the events
// channel; the dispatcher alone touches sessions and registries, so the
// protocol state needs no locks.
type Server struct {
	log     zerolog.Logger
	network fabric.Network
	store   *storage.Store

	readers *registry
	writers *registry

	rendezvous fabric.Conn
	events     chan event
	quit       chan struct{}
	stopOnce   sync.Once

	readerCount atomic.Int64
	writerCount atomic.Int64
}

// event is one inbound datagram (or receive failure) handed to the
// dispatcher. A nil sess marks rendezvous traffic.
type event struct {
	sess  *Session
	write bool
	data  []byte
	from  fabric.Addr
	err   error
}

// New builds a Server on top of a fabric and a storage façade.
func New(network fabric.Network, store *storage.Store, log zerolog.Logger) *Server {
	observability.RegisterMetrics()
	return &Server{
		log:     log,
		network: network,
		store:   store,
		readers: newRegistry(),
		writers: newRegistry(),
		events:  make(chan event, 128),
		quit:    make(chan struct{}),
	}
}

// Listen publishes the rendezvous endpoint. It must be called before Serve.
func (s *Server) Listen() error {
	conn, err := s.network.Publish(ServiceID, ServiceVersion, ServiceInstance)
	if err != nil {
		return fmt.Errorf("publish transfer service: %w", err)
	}
	s.rendezvous = conn
	s.log.Info().Stringer("addr", conn.LocalAddr()).Msg("transfer service published")
	return nil
}

// Run publishes the service and serves until ctx is cancelled or the
// rendezvous socket fails permanently.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the dispatcher loop. All session mutation happens here.
func (s *Server) Serve(ctx context.Context) error {
	if s.rendezvous == nil {
		return errors.New("server: Serve before Listen")
	}
	defer s.stop()

	go s.pumpRendezvous()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if ev.sess == nil {
				if ev.err != nil {
					// Rendezvous failure is fatal; transient interruptions
					// were already retried by the pump.
					return fmt.Errorf("rendezvous receive: %w", ev.err)
				}
				s.handleRendezvous(ev.data, ev.from)
				continue
			}
			s.handleSessionEvent(ev)
		}
	}
}

// Sessions reports the number of live read and write sessions.
func (s *Server) Sessions() (readers, writers int) {
	return int(s.readerCount.Load()), int(s.writerCount.Load())
}

func (s *Server) handleSessionEvent(ev event) {
	sess := ev.sess
	if sess.closed {
		// The pump raced with a teardown in this same loop.
		return
	}
	if ev.err != nil {
		sess.log.Warn().Err(ev.err).Msg("session receive failed")
		s.teardown(sess, ev.write, "recv-error")
		return
	}

	var v verdict
	if ev.write {
		v = s.serveWrite(sess, ev.from, ev.data)
	} else {
		v = s.serveRead(sess, ev.from, ev.data)
	}
	switch v {
	case completeSession:
		s.teardown(sess, ev.write, "completed")
	case abortSession:
		s.teardown(sess, ev.write, "aborted")
	}
}

func (s *Server) handleRendezvous(pkt []byte, from fabric.Addr) {
	if fabric.IsControl(from) {
		s.handleControl(pkt)
		return
	}

	op, err := wire.Opcode(pkt)
	if err != nil {
		s.log.Debug().Stringer("from", from).Msg("runt datagram on rendezvous socket")
		return
	}
	switch op {
	case wire.OpReadRequest:
		req, err := wire.DecodeRequest(pkt)
		if err != nil {
			s.log.Warn().Err(err).Stringer("from", from).Msg("malformed read request")
			return
		}
		observability.RequestReceived("read")
		s.handleReadRequest(req, from)
	case wire.OpWriteRequest:
		req, err := wire.DecodeRequest(pkt)
		if err != nil {
			s.log.Warn().Err(err).Stringer("from", from).Msg("malformed write request")
			return
		}
		observability.RequestReceived("write")
		s.handleWriteRequest(req, from)
	case wire.OpError:
		if perr, derr := wire.DecodeError(pkt); derr == nil {
			s.log.Info().Uint16("code", perr.Code).Str("message", perr.Message).
				Stringer("from", from).Msg("received error")
		}
	default:
		s.log.Info().Uint16("opcode", op).Stringer("from", from).Msg("unhandled op")
	}
}

func (s *Server) handleReadRequest(req wire.Request, from fabric.Addr) {
	if !strings.EqualFold(req.Mode, wire.ModeOctet) {
		s.log.Info().Str("mode", req.Mode).Str("path", req.Path).Msg("not octet, reject")
		return
	}
	opts := s.negotiate(req, from)
	s.log.Info().Str("path", req.Path).Stringer("from", from).
		Int64("rsize", opts.ReadLimit).Int64("seek", opts.Seek).Msg("read request")

	conn, err := s.sessionConn(from)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to open session socket, reject")
		return
	}

	file, err := s.store.OpenRead(req.Path)
	if err != nil {
		s.log.Info().Err(err).Str("path", req.Path).Msg("unable to open file, reject")
		if _, serr := conn.Send(wire.EncodeError(wire.CodeFileNotFound, "file not found")); serr != nil {
			s.log.Debug().Err(serr).Msg("failed to send error reply")
		}
		_ = conn.Close()
		return
	}
	if opts.WantSize {
		opts.TransferSize = file.Size()
	}

	sess := &Session{
		remote: from,
		conn:   conn,
		opts:   opts,
		file:   file,
		log:    s.log.With().Str("dir", "read").Stringer("peer", from).Logger(),
	}
	s.readers.add(sess)
	s.readerCount.Add(1)
	observability.SessionOpened("read")
	go s.pumpSession(sess, false)

	if opts.Negotiated() {
		if _, err := conn.Send(wire.EncodeOptionAck(opts)); err != nil {
			sess.log.Error().Err(err).Msg("failed to send option ack")
			s.teardown(sess, false, "aborted")
		}
		return
	}
	if v := s.sendWindow(sess, 0); v != keepSession {
		s.teardown(sess, false, "aborted")
	}
}

func (s *Server) handleWriteRequest(req wire.Request, from fabric.Addr) {
	if !strings.EqualFold(req.Mode, wire.ModeOctet) {
		s.log.Info().Str("mode", req.Mode).Str("path", req.Path).Msg("not octet, reject")
		return
	}
	opts := s.negotiate(req, from)
	s.log.Info().Str("path", req.Path).Stringer("from", from).Msg("write request")

	sink, err := s.store.OpenWrite(req.Path)
	if err != nil {
		s.log.Info().Err(err).Str("path", req.Path).Msg("unable to open file, reject")
		return
	}

	conn, err := s.sessionConn(from)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to open session socket, reject")
		_ = sink.Close()
		return
	}

	sess := &Session{
		remote: from,
		conn:   conn,
		opts:   opts,
		sink:   sink,
		log:    s.log.With().Str("dir", "write").Stringer("peer", from).Logger(),
	}
	s.writers.add(sess)
	s.writerCount.Add(1)
	observability.SessionOpened("write")
	go s.pumpSession(sess, true)

	if opts.Negotiated() {
		if _, err := conn.Send(wire.EncodeOptionAck(opts)); err != nil {
			sess.log.Error().Err(err).Msg("failed to send option ack")
			s.teardown(sess, true, "aborted")
		}
	}
	// Without options the server stays quiet and waits for block 1.
}

func (s *Server) negotiate(req wire.Request, from fabric.Addr) wire.Options {
	opts, ignored := wire.Negotiate(req.Options)
	for _, p := range ignored {
		s.log.Info().Str("option", p.Key).Str("value", p.Value).Stringer("from", from).
			Msg("ignoring unknown option")
	}
	return opts
}

// sessionConn opens the dedicated endpoint for a new session and connects
// it to the requester.
func (s *Server) sessionConn(remote fabric.Addr) (fabric.Conn, error) {
	conn, err := s.network.Open()
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(remote); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// teardown evicts a session from its registry and releases its socket and
// file. Idempotent: later events for the same session are ignored via the
// closed flag.
func (s *Server) teardown(sess *Session, write bool, reason string) {
	if sess.closed {
		return
	}
	sess.closed = true
	direction := "read"
	if write {
		s.writers.remove(sess)
		s.writerCount.Add(-1)
		direction = "write"
	} else {
		s.readers.remove(sess)
		s.readerCount.Add(-1)
	}
	sess.release()
	observability.SessionClosed(direction, reason)
	sess.log.Debug().Str("reason", reason).Msg("session closed")
}

// pumpSession feeds a session's datagrams to the dispatcher until the
// socket dies, which after a teardown is the normal way out.
func (s *Server) pumpSession(sess *Session, write bool) {
	size := 4 + sess.opts.BlockSize
	if size < 512 {
		size = 512
	}
	buf := make([]byte, size)
	for {
		n, from, err := sess.conn.Recv(buf)
		if err != nil {
			if fabric.Transient(err) {
				continue
			}
			if errors.Is(err, fabric.ErrClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.emit(event{sess: sess, write: write, err: err})
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if !s.emit(event{sess: sess, write: write, data: data, from: from}) {
			return
		}
	}
}

// pumpRendezvous feeds rendezvous traffic to the dispatcher, retrying
// transient interruptions and reporting anything else as fatal.
func (s *Server) pumpRendezvous() {
	buf := make([]byte, rendezvousBufSize)
	for {
		n, from, err := s.rendezvous.Recv(buf)
		if err != nil {
			if fabric.Transient(err) {
				continue
			}
			if errors.Is(err, fabric.ErrClosed) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.emit(event{err: err})
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if !s.emit(event{data: data, from: from}) {
			return
		}
	}
}

func (s *Server) emit(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

// stop releases every live session and the rendezvous socket when the
// dispatcher exits.
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		for _, sess := range s.readers.matching(func(*Session) bool { return true }) {
			s.teardown(sess, false, "shutdown")
		}
		for _, sess := range s.writers.matching(func(*Session) bool { return true }) {
			s.teardown(sess, true, "shutdown")
		}
		if s.rendezvous != nil {
			_ = s.rendezvous.Close()
		}
	})
}
