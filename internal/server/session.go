package server

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/a-wai/tqftpserv/internal/fabric"
	"github.com/a-wai/tqftpserv/internal/storage"
	"github.com/a-wai/tqftpserv/internal/wire"
)

// Session is one in-flight transfer: the peer it belongs to, the dedicated
// socket connected to that peer, the backing file and the negotiated
// parameters. A read session owns file, a write session owns sink.
//
// Sessions are mutated only by the dispatcher goroutine; see Server.Serve.
type Session struct {
	remote fabric.Addr
	conn   fabric.Conn
	opts   wire.Options

	file storage.ReadHandle
	sink io.WriteCloser

	log    zerolog.Logger
	closed bool
}

// release closes the socket and file exactly once. Guarded by the closed
// flag set in Server.teardown.
func (s *Session) release() {
	_ = s.conn.Close()
	if s.file != nil {
		_ = s.file.Close()
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}
}

// verdict is what an engine decided about its session after one datagram.
type verdict int

const (
	// keepSession leaves the session in its registry.
	keepSession verdict = iota
	// completeSession tears the session down as finished.
	completeSession
	// abortSession tears the session down as failed.
	abortSession
)
