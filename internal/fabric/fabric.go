// Package fabric is the datagram transport boundary: a node/port-addressed,
// router-mediated socket fabric for moving packets between isolated
// processing domains on one device.
//
// The protocol engine only depends on the interfaces here. Two
// implementations ship with the server: an in-process Router used by tests
// and single-process deployments, and a Linux abstract-namespace unixgram
// adapter for separate processes.
package fabric

import (
	"errors"
	"fmt"
	"net"
)

// Addr identifies one endpoint on the fabric.
type Addr struct {
	Node uint32
	Port uint32
}

func (a Addr) String() string {
	return fmt.Sprintf("%d:%d", a.Node, a.Port)
}

// PortControl is the reserved sender port for router control messages.
// Datagrams arriving from this port carry Notifications, not user data.
const PortControl = uint32(0xfffffffe)

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = errors.New("fabric: endpoint closed")

// ErrNotConnected is returned by Send on an endpoint that was never
// connected to a remote address.
var ErrNotConnected = errors.New("fabric: endpoint not connected")

// Conn is one datagram endpoint. Recv blocks until a datagram arrives or
// the endpoint is closed; Send requires a prior Connect.
type Conn interface {
	Recv(p []byte) (int, Addr, error)
	Send(p []byte) (int, error)
	Connect(remote Addr) error
	LocalAddr() Addr
	Close() error
}

// Network opens endpoints on the fabric for one node.
type Network interface {
	// Open creates an unbound endpoint on an ephemeral port.
	Open() (Conn, error)
	// Publish creates the rendezvous endpoint for a well-known
	// service/version/instance triple and announces it on the fabric.
	Publish(service, version, instance uint32) (Conn, error)
}

// Transient reports whether a receive error is a momentary interruption
// worth retrying rather than a dead endpoint.
func Transient(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
