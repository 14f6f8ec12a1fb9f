package server

import (
	"errors"
	"io"

	"github.com/a-wai/tqftpserv/internal/fabric"
	"github.com/a-wai/tqftpserv/internal/observability"
	"github.com/a-wai/tqftpserv/internal/wire"
)

// serveRead reacts to one datagram on a read session's socket. The peer
// drives the transfer by acknowledging the last block it received; the
// server answers each acknowledgment with the next window of data blocks.
func (s *Server) serveRead(sess *Session, from fabric.Addr, pkt []byte) verdict {
	if from != sess.remote {
		sess.log.Debug().Stringer("from", from).Msg("discarding spoofed message")
		return keepSession
	}

	op, err := wire.Opcode(pkt)
	if err != nil {
		sess.log.Warn().Err(err).Msg("undecodable packet on read session")
		return abortSession
	}

	if op == wire.OpError {
		perr, derr := wire.DecodeError(pkt)
		if derr != nil {
			sess.log.Warn().Err(derr).Msg("malformed error packet")
			return abortSession
		}
		if perr.EndOfTransfer() {
			// Not a failure: peers use this code to finish stat-style reads.
			sess.log.Info().Str("message", perr.Message).Msg("peer signalled end of transfer")
			return completeSession
		}
		sess.log.Error().Uint16("code", perr.Code).Str("message", perr.Message).
			Msg("peer reported an error")
		return abortSession
	}

	ack, err := wire.DecodeAck(pkt)
	if err != nil {
		sess.log.Warn().Uint16("opcode", op).Msg("expected ACK")
		return abortSession
	}

	blk := int64(sess.opts.BlockSize)
	limit := sess.opts.ReadLimit
	if limit > 0 && int64(ack.Block)*blk >= limit {
		// Everything the peer asked for is already on the wire. The session
		// stays open until the peer signals completion or goes away.
		return keepSession
	}
	return s.sendWindow(sess, ack.Block)
}

// sendWindow sends the blocks last+1 .. last+window, stopping early at the
// read limit, at end of file (a short block, possibly empty, tells the peer
// the transfer is over) or on a backing-store failure.
func (s *Server) sendWindow(sess *Session, last uint16) verdict {
	o := sess.opts
	blk := int64(o.BlockSize)

	for i := 0; i < o.WindowSize; i++ {
		pos := int64(last) + int64(i) // zero-based index of the block to send
		block := uint16(pos + 1)
		offset := o.Seek + pos*blk

		want := blk
		if o.ReadLimit > 0 {
			remain := o.ReadLimit - pos*blk
			if remain <= 0 {
				return keepSession
			}
			if remain < want {
				want = remain
			}
		}

		buf := make([]byte, want)
		n, err := sess.file.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			sess.log.Error().Err(err).Uint16("block", block).Msg("failed to read data")
			return abortSession
		}

		if _, err := sess.conn.Send(wire.EncodeData(block, buf[:n])); err != nil {
			sess.log.Error().Err(err).Uint16("block", block).Msg("failed to send block")
			return abortSession
		}
		observability.BlockSent(n)

		if int64(n) < want {
			// End of file. The short block closes the transfer on the peer
			// side; the session lingers for its final acknowledgment.
			return keepSession
		}
		if o.ReadLimit > 0 && pos*blk+int64(n) >= o.ReadLimit {
			return keepSession
		}
	}
	return keepSession
}
