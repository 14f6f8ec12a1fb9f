package wire

import (
	"bytes"
	"testing"
)

func TestNegotiateDefaults(t *testing.T) {
	o, ignored := Negotiate(nil)
	if len(ignored) != 0 {
		t.Fatalf("expected nothing ignored, got %v", ignored)
	}
	if o.Negotiated() {
		t.Fatalf("empty option set must not count as negotiated")
	}
	if o.BlockSize != DefaultBlockSize {
		t.Fatalf("unexpected block size: %d", o.BlockSize)
	}
	if o.TimeoutMS != DefaultTimeoutMS {
		t.Fatalf("unexpected timeout: %d", o.TimeoutMS)
	}
	if o.WindowSize != DefaultWindowSize {
		t.Fatalf("unexpected window: %d", o.WindowSize)
	}
	if o.ReadLimit != 0 || o.Seek != 0 {
		t.Fatalf("unexpected limits: rsize=%d seek=%d", o.ReadLimit, o.Seek)
	}
	if o.TransferSize != -1 {
		t.Fatalf("unexpected transfer size: %d", o.TransferSize)
	}
}

func TestNegotiateRecognizedOptions(t *testing.T) {
	o, ignored := Negotiate([]Option{
		{Key: "blksize", Value: "4096"},
		{Key: "timeoutms", Value: "250"},
		{Key: "tsize", Value: "0"},
		{Key: "wsize", Value: "10"},
		{Key: "rsize", Value: "700"},
		{Key: "seek", Value: "100"},
	})
	if len(ignored) != 0 {
		t.Fatalf("expected nothing ignored, got %v", ignored)
	}
	if !o.Negotiated() {
		t.Fatalf("expected negotiated option set")
	}
	if o.BlockSize != 4096 || !o.HasBlockSize {
		t.Fatalf("unexpected block size: %d has=%v", o.BlockSize, o.HasBlockSize)
	}
	if o.TimeoutMS != 250 || !o.HasTimeout {
		t.Fatalf("unexpected timeout: %d has=%v", o.TimeoutMS, o.HasTimeout)
	}
	if !o.WantSize {
		t.Fatalf("tsize request not recorded")
	}
	if o.WindowSize != 10 || !o.HasWindow {
		t.Fatalf("unexpected window: %d has=%v", o.WindowSize, o.HasWindow)
	}
	if o.ReadLimit != 700 || !o.HasReadLimit {
		t.Fatalf("unexpected read limit: %d has=%v", o.ReadLimit, o.HasReadLimit)
	}
	if o.Seek != 100 || !o.HasSeek {
		t.Fatalf("unexpected seek: %d has=%v", o.Seek, o.HasSeek)
	}
}

func TestNegotiateIgnoresUnknownAndBadValues(t *testing.T) {
	o, ignored := Negotiate([]Option{
		{Key: "blksize", Value: "1024"},
		{Key: "windowsize", Value: "8"},
		{Key: "rsize", Value: "banana"},
		{Key: "wsize", Value: "-3"},
		{Key: "blksize2", Value: "0"},
	})
	if len(ignored) != 4 {
		t.Fatalf("expected four ignored pairs, got %v", ignored)
	}
	if !o.Negotiated() {
		t.Fatalf("supplied pairs must count as negotiated")
	}
	if o.BlockSize != 1024 {
		t.Fatalf("unexpected block size: %d", o.BlockSize)
	}
	if o.HasReadLimit || o.HasWindow {
		t.Fatalf("bad values must not register: %+v", o)
	}
	if o.WindowSize != DefaultWindowSize {
		t.Fatalf("unexpected window: %d", o.WindowSize)
	}
}

func TestNegotiateRejectsZeroBlockAndWindow(t *testing.T) {
	o, ignored := Negotiate([]Option{
		{Key: "blksize", Value: "0"},
		{Key: "wsize", Value: "0"},
	})
	if len(ignored) != 2 {
		t.Fatalf("expected both pairs ignored, got %v", ignored)
	}
	if o.BlockSize != DefaultBlockSize || o.WindowSize != DefaultWindowSize {
		t.Fatalf("defaults not preserved: blksize=%d wsize=%d", o.BlockSize, o.WindowSize)
	}
}

func TestNegotiateUnrecognizedPairsStillObligeAnAck(t *testing.T) {
	// The requester asked to negotiate; that it asked for nothing we
	// understand changes the echo set, not the obligation to reply.
	o, _ := Negotiate([]Option{{Key: "windowsize", Value: "8"}})
	if !o.Negotiated() {
		t.Fatalf("unknown-only pairs must count as negotiated")
	}
	if got := EncodeOptionAck(o); !bytes.Equal(got, []byte{0x00, 0x06}) {
		t.Fatalf("expected empty option ack, got %q", got)
	}

	o, _ = Negotiate([]Option{{Key: "rsize", Value: "banana"}})
	if !o.Negotiated() {
		t.Fatalf("bad-value-only pairs must count as negotiated")
	}
}

func TestEncodeOptionAckEchoesSuppliedSubset(t *testing.T) {
	o, _ := Negotiate([]Option{
		{Key: "blksize", Value: "1024"},
		{Key: "tsize", Value: "0"},
	})
	o.TransferSize = 9000

	want := []byte{0x00, 0x06}
	want = append(want, "blksize\x001024\x00tsize\x009000\x00"...)
	if got := EncodeOptionAck(o); !bytes.Equal(got, want) {
		t.Fatalf("unexpected option ack:\n got %q\nwant %q", got, want)
	}
}

func TestNegotiateKeepsRequesterTransferSize(t *testing.T) {
	o, _ := Negotiate([]Option{{Key: "tsize", Value: "700"}})
	if !o.WantSize || o.TransferSize != 700 {
		t.Fatalf("requester tsize not carried: %+v", o)
	}
	want := []byte{0x00, 0x06}
	want = append(want, "tsize\x00700\x00"...)
	if got := EncodeOptionAck(o); !bytes.Equal(got, want) {
		t.Fatalf("unexpected option ack: %q", got)
	}
}

func TestEncodeOptionAckOmitsUnknownTransferSize(t *testing.T) {
	o := DefaultOptions()
	o.Supplied = true
	o.WantSize = true
	// TransferSize was never filled in from a real file.
	want := []byte{0x00, 0x06}
	if got := EncodeOptionAck(o); !bytes.Equal(got, want) {
		t.Fatalf("unexpected option ack: %q", got)
	}
}

func TestEncodeOptionAckFullSet(t *testing.T) {
	o, _ := Negotiate([]Option{
		{Key: "seek", Value: "100"},
		{Key: "rsize", Value: "700"},
		{Key: "wsize", Value: "4"},
		{Key: "timeoutms", Value: "250"},
		{Key: "blksize", Value: "2048"},
		{Key: "tsize", Value: "0"},
	})
	o.TransferSize = 12345

	// Keys come back in fixed order regardless of request order.
	want := []byte{0x00, 0x06}
	want = append(want, "blksize\x002048\x00timeoutms\x00250\x00tsize\x0012345\x00wsize\x004\x00rsize\x00700\x00seek\x00100\x00"...)
	if got := EncodeOptionAck(o); !bytes.Equal(got, want) {
		t.Fatalf("unexpected option ack:\n got %q\nwant %q", got, want)
	}
}

func TestOptionAckDecodesAsPairs(t *testing.T) {
	o, _ := Negotiate([]Option{{Key: "blksize", Value: "1024"}, {Key: "wsize", Value: "2"}})
	pkt := EncodeOptionAck(o)

	op, err := Opcode(pkt)
	if err != nil || op != OpOptionAck {
		t.Fatalf("unexpected opcode: %d err=%v", op, err)
	}
	pairs, err := DecodeOptionPairs(pkt[2:])
	if err != nil {
		t.Fatalf("decode pairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected two pairs, got %v", pairs)
	}
	if pairs[0] != (Option{Key: "blksize", Value: "1024"}) {
		t.Fatalf("unexpected first pair: %+v", pairs[0])
	}
	if pairs[1] != (Option{Key: "wsize", Value: "2"}) {
		t.Fatalf("unexpected second pair: %+v", pairs[1])
	}
}
