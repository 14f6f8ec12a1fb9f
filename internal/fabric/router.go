package fabric

import (
	"sync"
)

const routerQueueDepth = 64

// Router is an in-process fabric: every endpoint lives in one address
// space and datagrams are delivered over buffered channels. It mirrors the
// control-plane behavior of a device router, closing a node emits a bye
// notification, closing a single endpoint emits del-client. Both are
// delivered to published (rendezvous) endpoints on other nodes only.
type Router struct {
	mu       sync.Mutex
	conns    map[Addr]*routerConn
	services map[serviceKey]Addr
	nextPort uint32
}

type serviceKey struct {
	service  uint32
	version  uint32
	instance uint32
}

type datagram struct {
	from Addr
	data []byte
}

// NewRouter creates an empty in-process fabric.
func NewRouter() *Router {
	return &Router{
		conns:    make(map[Addr]*routerConn),
		services: make(map[serviceKey]Addr),
		nextPort: 1,
	}
}

// Node returns the Network view of the fabric for one node identifier.
func (r *Router) Node(node uint32) Network {
	return &nodeNetwork{router: r, node: node}
}

// Lookup resolves a published service to its rendezvous address.
func (r *Router) Lookup(service, version, instance uint32) (Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.services[serviceKey{service, version, instance}]
	return a, ok
}

// CloseNode closes every endpoint belonging to node and notifies published
// endpoints on the remaining nodes that the node is gone.
func (r *Router) CloseNode(node uint32) {
	r.mu.Lock()
	var victims []*routerConn
	for a, c := range r.conns {
		if a.Node == node {
			victims = append(victims, c)
		}
	}
	r.mu.Unlock()

	for _, c := range victims {
		c.detach()
	}
	r.notify(Notification{Type: NotifyBye, Addr: Addr{Node: node}}, node)
}

func (r *Router) open(node uint32, port uint32, published bool) (*routerConn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if port == 0 {
		for {
			port = r.nextPort
			r.nextPort++
			if _, taken := r.conns[Addr{node, port}]; !taken && port != PortControl {
				break
			}
		}
	}
	c := &routerConn{
		router:    r,
		local:     Addr{Node: node, Port: port},
		published: published,
		queue:     make(chan datagram, routerQueueDepth),
		done:      make(chan struct{}),
	}
	r.conns[c.local] = c
	return c, nil
}

// deliver routes one datagram. Unroutable or overflowing datagrams are
// dropped, matching lossy datagram semantics.
func (r *Router) deliver(from, to Addr, p []byte) {
	r.mu.Lock()
	dst := r.conns[to]
	r.mu.Unlock()
	if dst == nil {
		return
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case dst.queue <- datagram{from: from, data: buf}:
	case <-dst.done:
	default:
	}
}

// notify fans a control packet out to published endpoints on every node
// except exclude.
func (r *Router) notify(n Notification, exclude uint32) {
	r.mu.Lock()
	var targets []*routerConn
	for a, c := range r.conns {
		if c.published && a.Node != exclude {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	pkt := EncodeControl(n)
	for _, c := range targets {
		from := Addr{Node: c.local.Node, Port: PortControl}
		r.deliver(from, c.local, pkt)
	}
}

func (r *Router) remove(c *routerConn) {
	r.mu.Lock()
	delete(r.conns, c.local)
	for k, a := range r.services {
		if a == c.local {
			delete(r.services, k)
		}
	}
	r.mu.Unlock()
}

type nodeNetwork struct {
	router *Router
	node   uint32
}

func (n *nodeNetwork) Open() (Conn, error) {
	return n.router.open(n.node, 0, false)
}

func (n *nodeNetwork) Publish(service, version, instance uint32) (Conn, error) {
	c, err := n.router.open(n.node, 0, true)
	if err != nil {
		return nil, err
	}
	n.router.mu.Lock()
	n.router.services[serviceKey{service, version, instance}] = c.local
	n.router.mu.Unlock()
	return c, nil
}

type routerConn struct {
	router    *Router
	local     Addr
	published bool
	queue     chan datagram
	done      chan struct{}

	mu        sync.Mutex
	remote    Addr
	connected bool
	closed    bool
}

func (c *routerConn) Recv(p []byte) (int, Addr, error) {
	select {
	case d := <-c.queue:
		n := copy(p, d.data)
		return n, d.from, nil
	case <-c.done:
		// Drain anything that raced with the close.
		select {
		case d := <-c.queue:
			n := copy(p, d.data)
			return n, d.from, nil
		default:
			return 0, Addr{}, ErrClosed
		}
	}
}

func (c *routerConn) Send(p []byte) (int, error) {
	c.mu.Lock()
	remote, connected, closed := c.remote, c.connected, c.closed
	c.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	if !connected {
		return 0, ErrNotConnected
	}
	c.router.deliver(c.local, remote, p)
	return len(p), nil
}

func (c *routerConn) Connect(remote Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.remote = remote
	c.connected = true
	return nil
}

func (c *routerConn) LocalAddr() Addr {
	return c.local
}

// Close detaches the endpoint and, for plain endpoints, announces a
// del-client so remote servers can reap sessions bound to this address.
func (c *routerConn) Close() error {
	if !c.detach() {
		return nil
	}
	if !c.published {
		c.router.notify(Notification{Type: NotifyDelClient, Addr: c.local}, c.local.Node)
	}
	return nil
}

// detach removes the endpoint from the router without emitting control
// traffic. Returns false when already closed.
func (c *routerConn) detach() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.router.remove(c)
	return true
}
