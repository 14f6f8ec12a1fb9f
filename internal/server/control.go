package server

import (
	"github.com/a-wai/tqftpserv/internal/fabric"
)

// handleControl reacts to router notifications on the rendezvous socket.
// A bye reaps every write session talking to the departed node, a
// del-client reaps the write session bound to the exact address.
//
// Read sessions deliberately survive both signals, matching the original
// server's behavior: a reader that lost its peer is finished by the
// peer-side completion path or never, not by the control plane.
func (s *Server) handleControl(pkt []byte) {
	n, err := fabric.DecodeControl(pkt)
	if err != nil {
		s.log.Warn().Err(err).Msg("unable to decode control packet")
		return
	}

	var victims []*Session
	switch n.Type {
	case fabric.NotifyBye:
		s.log.Debug().Uint32("node", n.Addr.Node).Msg("node left the fabric")
		victims = s.writers.matching(byNode(n.Addr.Node))
	case fabric.NotifyDelClient:
		s.log.Debug().Stringer("addr", n.Addr).Msg("peer endpoint closed")
		victims = s.writers.matching(byAddr(n.Addr))
	}

	for _, sess := range victims {
		s.teardown(sess, true, "peer-gone")
	}
}
