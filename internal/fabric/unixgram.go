package fabric

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Unixgram maps the fabric onto Linux abstract-namespace datagram sockets,
// so separate processes on one device can exchange packets without any
// filesystem or IP setup. Endpoint Addr{node, port} binds the abstract name
// "@tqftp.<node>.<port>"; rendezvous endpoints use a port derived from the
// service triple so peers can address them by convention.
//
// The abstract namespace has no router daemon, so no control notifications
// (bye/del-client) are ever delivered on this backend; stale sessions are
// only reaped by protocol completion or errors.
type Unixgram struct {
	node   uint32
	prefix string
}

// NewUnixgram returns the unixgram fabric view for one node identifier.
func NewUnixgram(node uint32) *Unixgram {
	return &Unixgram{node: node, prefix: "tqftp"}
}

var unixgramPort atomic.Uint32

func init() {
	// Seed ephemeral ports per process so two nodes sharing a node id by
	// misconfiguration at least fail loudly on bind instead of cross-talking.
	unixgramPort.Store(uint32(os.Getpid()) << 12)
}

func (u *Unixgram) Open() (Conn, error) {
	for i := 0; i < 32; i++ {
		port := unixgramPort.Add(1)
		if port == 0 || port == PortControl {
			continue
		}
		c, err := u.bind(Addr{Node: u.node, Port: port})
		if err == nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("fabric: no free unixgram port on node %d", u.node)
}

func (u *Unixgram) Publish(service, version, instance uint32) (Conn, error) {
	return u.bind(Addr{Node: u.node, Port: WellKnownPort(service, version, instance)})
}

// WellKnownPort folds a service/version/instance triple into the port a
// published endpoint binds on every backend that has no discovery daemon.
func WellKnownPort(service, version, instance uint32) uint32 {
	return (service&0xffff)<<16 | (version&0xff)<<8 | (instance & 0xff)
}

func (u *Unixgram) bind(local Addr) (*unixgramConn, error) {
	uc, err := net.ListenUnixgram("unixgram", &net.UnixAddr{
		Name: u.name(local),
		Net:  "unixgram",
	})
	if err != nil {
		return nil, fmt.Errorf("fabric: bind %s: %w", local, err)
	}
	return &unixgramConn{net: u, conn: uc, local: local}, nil
}

func (u *Unixgram) name(a Addr) string {
	return fmt.Sprintf("@%s.%d.%d", u.prefix, a.Node, a.Port)
}

func (u *Unixgram) parseName(name string) (Addr, bool) {
	name = strings.TrimPrefix(strings.TrimPrefix(name, "@"), "\x00")
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[0] != u.prefix {
		return Addr{}, false
	}
	node, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Addr{}, false
	}
	port, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return Addr{}, false
	}
	return Addr{Node: uint32(node), Port: uint32(port)}, true
}

type unixgramConn struct {
	net   *Unixgram
	conn  *net.UnixConn
	local Addr

	mu        sync.Mutex
	remote    Addr
	connected bool
}

func (c *unixgramConn) Recv(p []byte) (int, Addr, error) {
	for {
		n, from, err := c.conn.ReadFromUnix(p)
		if err != nil {
			return 0, Addr{}, err
		}
		if from == nil {
			// Unbound sender, nothing to validate a session against.
			continue
		}
		addr, ok := c.net.parseName(from.Name)
		if !ok {
			continue
		}
		return n, addr, nil
	}
}

func (c *unixgramConn) Send(p []byte) (int, error) {
	c.mu.Lock()
	remote, connected := c.remote, c.connected
	c.mu.Unlock()
	if !connected {
		return 0, ErrNotConnected
	}
	return c.conn.WriteToUnix(p, &net.UnixAddr{
		Name: c.net.name(remote),
		Net:  "unixgram",
	})
}

func (c *unixgramConn) Connect(remote Addr) error {
	c.mu.Lock()
	c.remote = remote
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *unixgramConn) LocalAddr() Addr {
	return c.local
}

func (c *unixgramConn) Close() error {
	return c.conn.Close()
}
