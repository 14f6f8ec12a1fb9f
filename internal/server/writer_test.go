package server

import (
	"bytes"
	"testing"

	"github.com/a-wai/tqftpserv/internal/wire"
)

func TestWriteNegotiationEchoesOptionAck(t *testing.T) {
	e := startServer(t)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "1024"}))
	pkt, _ := c.recv()
	want := []byte{0x00, 0x06}
	want = append(want, "blksize\x001024\x00"...)
	if !bytes.Equal(pkt, want) {
		t.Fatalf("unexpected option ack:\n got %q\nwant %q", pkt, want)
	}
	e.waitSessions(0, 1)
}

func TestWriteOptionAckEchoesClientTransferSize(t *testing.T) {
	e := startServer(t)
	c := dialClient(t, e, 2)

	// On writes the size is the client's to declare; it comes back as sent.
	c.send(wrq("/out.bin",
		wire.Option{Key: "blksize", Value: "512"},
		wire.Option{Key: "tsize", Value: "700"},
	))
	pkt, _ := c.recv()
	want := []byte{0x00, 0x06}
	want = append(want, "blksize\x00512\x00tsize\x00700\x00"...)
	if !bytes.Equal(pkt, want) {
		t.Fatalf("unexpected option ack:\n got %q\nwant %q", pkt, want)
	}
	e.waitSessions(0, 1)
}

func TestWriteStoresBlocksAndAcks(t *testing.T) {
	e := startServer(t)
	content := pattern(700)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "512"}))
	_, sess := c.recv() // option ack
	c.connect(sess)

	c.send(wire.EncodeData(1, content[:512]))
	pkt, _ := c.recv()
	ack, err := wire.DecodeAck(pkt)
	if err != nil || ack.Block != 1 {
		t.Fatalf("expected ack 1, got %q: %v", pkt, err)
	}

	c.send(wire.EncodeData(2, content[512:]))
	pkt, _ = c.recv()
	ack, err = wire.DecodeAck(pkt)
	if err != nil || ack.Block != 2 {
		t.Fatalf("expected ack 2, got %q: %v", pkt, err)
	}

	// The short final block completes the transfer.
	e.waitSessions(0, 0)
	if got := e.readFile("out.bin"); !bytes.Equal(got, content) {
		t.Fatalf("stored file mismatch: %d bytes", len(got))
	}
}

func TestWriteCompletionHonorsNegotiatedBlockSize(t *testing.T) {
	e := startServer(t)
	content := pattern(600)
	c := dialClient(t, e, 2)

	// 600 bytes exceed the classic 512 but fall short of the negotiated
	// 1024, so a single block finishes the transfer.
	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "1024"}))
	_, sess := c.recv()
	c.connect(sess)

	c.send(wire.EncodeData(1, content))
	pkt, _ := c.recv()
	if ack, err := wire.DecodeAck(pkt); err != nil || ack.Block != 1 {
		t.Fatalf("expected ack 1, got %q: %v", pkt, err)
	}
	e.waitSessions(0, 0)
	if got := e.readFile("out.bin"); !bytes.Equal(got, content) {
		t.Fatalf("stored file mismatch: %d bytes", len(got))
	}
}

func TestWriteWithoutOptionsStaysQuiet(t *testing.T) {
	e := startServer(t)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin"))
	c.expectSilence()
	// The session exists and waits for block 1 on its own socket.
	e.waitSessions(0, 1)
}

func TestWriteUnexpectedOpcodeAnswersIllegalOp(t *testing.T) {
	e := startServer(t)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "512"}))
	_, sess := c.recv()
	c.connect(sess)

	c.send(wire.EncodeAck(0))
	pkt, _ := c.recv()
	perr, err := wire.DecodeError(pkt)
	if err != nil {
		t.Fatalf("expected ERROR, got %q: %v", pkt, err)
	}
	if perr.Code != wire.CodeIllegalOp {
		t.Fatalf("unexpected code: %d", perr.Code)
	}
	if perr.Message != "Expected DATA opcode" {
		t.Fatalf("unexpected message: %q", perr.Message)
	}
	e.waitSessions(0, 0)
}

func TestWriteSpoofedDatagramVanishes(t *testing.T) {
	e := startServer(t)
	content := pattern(100)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "512"}))
	_, sess := c.recv()
	c.connect(sess)

	attacker, err := e.router.Node(3).Open()
	if err != nil {
		t.Fatalf("open attacker endpoint: %v", err)
	}
	t.Cleanup(func() { _ = attacker.Close() })
	if err := attacker.Connect(sess); err != nil {
		t.Fatalf("connect attacker: %v", err)
	}
	if _, err := attacker.Send(wire.EncodeData(1, []byte("forged"))); err != nil {
		t.Fatalf("attacker send: %v", err)
	}

	// No reply, no teardown, no stray bytes in the file.
	e.waitSessions(0, 1)
	c.send(wire.EncodeData(1, content))
	pkt, _ := c.recv()
	if ack, derr := wire.DecodeAck(pkt); derr != nil || ack.Block != 1 {
		t.Fatalf("expected ack 1, got %q: %v", pkt, derr)
	}
	e.waitSessions(0, 0)
	if got := e.readFile("out.bin"); !bytes.Equal(got, content) {
		t.Fatalf("stored file mismatch: %d bytes", len(got))
	}
}

func TestWriteEmptyFinalBlock(t *testing.T) {
	e := startServer(t)
	content := pattern(512)
	c := dialClient(t, e, 2)

	c.send(wrq("/out.bin", wire.Option{Key: "blksize", Value: "512"}))
	_, sess := c.recv()
	c.connect(sess)

	c.send(wire.EncodeData(1, content))
	c.recv() // ack 1
	e.waitSessions(0, 1)

	// An exact-multiple file needs an empty block to close the transfer.
	c.send(wire.EncodeData(2, nil))
	pkt, _ := c.recv()
	if ack, err := wire.DecodeAck(pkt); err != nil || ack.Block != 2 {
		t.Fatalf("expected ack 2, got %q: %v", pkt, err)
	}
	e.waitSessions(0, 0)
	if got := e.readFile("out.bin"); !bytes.Equal(got, content) {
		t.Fatalf("stored file mismatch: %d bytes", len(got))
	}
}
