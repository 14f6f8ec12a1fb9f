package fabric

import (
	"encoding/binary"
	"fmt"
)

// NotificationType discriminates control messages from the router.
type NotificationType uint32

const (
	// NotifyBye means a whole node left the fabric.
	NotifyBye = NotificationType(iota + 1)
	// NotifyDelClient means one endpoint on a remote node closed.
	NotifyDelClient
)

func (t NotificationType) String() string {
	switch t {
	case NotifyBye:
		return "bye"
	case NotifyDelClient:
		return "del-client"
	default:
		return fmt.Sprintf("notification(%d)", uint32(t))
	}
}

// Notification is a decoded control-channel packet. For NotifyBye only the
// node field of Addr is meaningful.
type Notification struct {
	Type NotificationType
	Addr Addr
}

const controlSize = 12

// IsControl reports whether a datagram sender is the router's control port.
func IsControl(from Addr) bool {
	return from.Port == PortControl
}

// DecodeControl parses a control-channel packet: type, node, port, each a
// big-endian uint32.
func DecodeControl(b []byte) (Notification, error) {
	if len(b) < controlSize {
		return Notification{}, fmt.Errorf("fabric: control packet too short (%d bytes)", len(b))
	}
	n := Notification{
		Type: NotificationType(binary.BigEndian.Uint32(b[0:4])),
		Addr: Addr{
			Node: binary.BigEndian.Uint32(b[4:8]),
			Port: binary.BigEndian.Uint32(b[8:12]),
		},
	}
	switch n.Type {
	case NotifyBye, NotifyDelClient:
		return n, nil
	default:
		return Notification{}, fmt.Errorf("fabric: unknown control type %d", uint32(n.Type))
	}
}

// EncodeControl builds a control-channel packet.
func EncodeControl(n Notification) []byte {
	buf := make([]byte, controlSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(n.Type))
	binary.BigEndian.PutUint32(buf[4:8], n.Addr.Node)
	binary.BigEndian.PutUint32(buf[8:12], n.Addr.Port)
	return buf
}
