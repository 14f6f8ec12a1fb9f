package wire

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// Negotiation defaults. Without options a transfer sends 512-byte blocks,
// one block per acknowledgment.
const (
	DefaultBlockSize  = 512
	DefaultTimeoutMS  = 1000
	DefaultWindowSize = 1
)

// Option keys the server negotiates. Unknown keys are ignored.
const (
	optBlockSize = "blksize"
	optTimeoutMS = "timeoutms"
	optTransfer  = "tsize"
	optWindow    = "wsize"
	optReadLimit = "rsize"
	optSeek      = "seek"
)

// Options is the negotiated parameter set for one transfer.
//
// The Has* flags track which options the requester actually supplied; the
// option acknowledgment echoes exactly that subset back.
type Options struct {
	BlockSize  int   // payload bytes per DATA packet
	TimeoutMS  int   // advisory only, echoed but never enforced
	WindowSize int   // DATA packets sent per ACK
	ReadLimit  int64 // total bytes to send for a read, 0 = whole file
	Seek       int64 // file offset where block 1 begins

	// TransferSize starts out as the requester's tsize value and is replaced
	// with the actual file size on reads before the acknowledgment goes out.
	TransferSize int64

	// Supplied records that the request carried option pairs at all, even
	// ones that were not recognized.
	Supplied bool

	HasBlockSize bool
	HasTimeout   bool
	WantSize     bool
	HasWindow    bool
	HasReadLimit bool
	HasSeek      bool
}

// DefaultOptions returns the parameter set used when a request carries no
// option pairs.
func DefaultOptions() Options {
	return Options{
		BlockSize:    DefaultBlockSize,
		TimeoutMS:    DefaultTimeoutMS,
		WindowSize:   DefaultWindowSize,
		TransferSize: -1,
	}
}

// Negotiated reports whether the requester supplied option pairs, which
// obliges the server to reply with an OACK before any data. Pairs that were
// ignored still count: the requester asked to negotiate and expects the
// acknowledgment, even an empty one.
func (o Options) Negotiated() bool {
	return o.Supplied
}

// Negotiate folds the supplied option pairs over the defaults. Pairs with
// unrecognized keys or unusable values are returned for logging and
// otherwise ignored, keeping the option space forward-compatible.
func Negotiate(pairs []Option) (Options, []Option) {
	o := DefaultOptions()
	o.Supplied = len(pairs) > 0
	var ignored []Option
	for _, p := range pairs {
		v, err := strconv.ParseInt(strings.TrimSpace(p.Value), 10, 64)
		if err != nil || v < 0 {
			ignored = append(ignored, p)
			continue
		}
		switch p.Key {
		case optBlockSize:
			if v < 1 {
				ignored = append(ignored, p)
				continue
			}
			o.BlockSize = int(v)
			o.HasBlockSize = true
		case optTimeoutMS:
			o.TimeoutMS = int(v)
			o.HasTimeout = true
		case optTransfer:
			// Writes echo this value back; reads replace it with the stat
			// result before acknowledging.
			o.TransferSize = v
			o.WantSize = true
		case optWindow:
			if v < 1 {
				ignored = append(ignored, p)
				continue
			}
			o.WindowSize = int(v)
			o.HasWindow = true
		case optReadLimit:
			o.ReadLimit = v
			o.HasReadLimit = true
		case optSeek:
			o.Seek = v
			o.HasSeek = true
		default:
			ignored = append(ignored, p)
		}
	}
	return o, ignored
}

// EncodeOptionAck builds an OACK datagram echoing the supplied options, in
// the fixed key order blksize, timeoutms, tsize, wsize, rsize, seek. The
// buffer grows with the option set, there is no fixed-size staging area to
// overflow.
func EncodeOptionAck(o Options) []byte {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint16(buf, OpOptionAck)
	if o.HasBlockSize {
		buf = appendPair(buf, optBlockSize, int64(o.BlockSize))
	}
	if o.HasTimeout {
		buf = appendPair(buf, optTimeoutMS, int64(o.TimeoutMS))
	}
	if o.WantSize && o.TransferSize >= 0 {
		buf = appendPair(buf, optTransfer, o.TransferSize)
	}
	if o.HasWindow {
		buf = appendPair(buf, optWindow, int64(o.WindowSize))
	}
	if o.HasReadLimit {
		buf = appendPair(buf, optReadLimit, o.ReadLimit)
	}
	if o.HasSeek {
		buf = appendPair(buf, optSeek, o.Seek)
	}
	return buf
}

func appendPair(buf []byte, key string, value int64) []byte {
	buf = appendString(buf, key)
	return appendString(buf, strconv.FormatInt(value, 10))
}
