package server

import "github.com/a-wai/tqftpserv/internal/fabric"

// registry holds the live sessions of one direction. It is owned by the
// dispatcher goroutine, so no locking is needed; a session is reachable
// from exactly one registry between creation and teardown.
type registry struct {
	sessions map[*Session]struct{}
}

func newRegistry() *registry {
	return &registry{sessions: make(map[*Session]struct{})}
}

func (r *registry) add(s *Session) {
	r.sessions[s] = struct{}{}
}

func (r *registry) remove(s *Session) {
	delete(r.sessions, s)
}

func (r *registry) len() int {
	return len(r.sessions)
}

// matching snapshots the sessions satisfying pred, so callers can tear
// entries down while walking the result without invalidating the scan.
func (r *registry) matching(pred func(*Session) bool) []*Session {
	var out []*Session
	for s := range r.sessions {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// byNode matches every session whose peer lives on the given node.
func byNode(node uint32) func(*Session) bool {
	return func(s *Session) bool { return s.remote.Node == node }
}

// byAddr matches the session bound to exactly the given peer address.
func byAddr(addr fabric.Addr) func(*Session) bool {
	return func(s *Session) bool { return s.remote == addr }
}
