package server

import (
	"github.com/a-wai/tqftpserv/internal/fabric"
	"github.com/a-wai/tqftpserv/internal/observability"
	"github.com/a-wai/tqftpserv/internal/wire"
)

// serveWrite reacts to one datagram on a write session's socket: append the
// payload, acknowledge the block, and finish once a short block arrives.
func (s *Server) serveWrite(sess *Session, from fabric.Addr, pkt []byte) verdict {
	if from != sess.remote {
		// Unlike the read side there is no diagnostic here, spoofed
		// datagrams on a write session vanish without a trace.
		return keepSession
	}

	d, err := wire.DecodeData(pkt)
	if err != nil {
		sess.log.Warn().Err(err).Msg("expected DATA")
		if _, serr := sess.conn.Send(wire.EncodeError(wire.CodeIllegalOp, "Expected DATA opcode")); serr != nil {
			sess.log.Debug().Err(serr).Msg("failed to send error reply")
		}
		return abortSession
	}

	if _, err := sess.sink.Write(d.Payload); err != nil {
		// No acknowledgment and no synthetic error code: the peer notices
		// the missing ack on its own schedule.
		sess.log.Error().Err(err).Uint16("block", d.Block).Msg("failed to write data")
		return abortSession
	}
	observability.BlockReceived(len(d.Payload))

	if _, err := sess.conn.Send(wire.EncodeAck(d.Block)); err != nil {
		sess.log.Error().Err(err).Uint16("block", d.Block).Msg("failed to send ack")
		return abortSession
	}

	if len(d.Payload) < sess.opts.BlockSize {
		return completeSession
	}
	return keepSession
}
