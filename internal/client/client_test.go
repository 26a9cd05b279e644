package client

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/throttle"
	"github.com/framelink-io/framelink/internal/wire"
)

func listen(t *testing.T) (string, *net.UnixListener) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.sock")
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return path, ln
}

func accept(t *testing.T, ln *net.UnixListener) *net.UnixConn {
	t.Helper()
	ln.SetDeadline(time.Now().Add(2 * time.Second))
	conn, err := ln.AcceptUnix()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readClientData(t *testing.T, conn *net.UnixConn) wire.ClientData {
	t.Helper()
	buf := make([]byte, wire.ClientDataSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("read client data: %v", err)
	}
	cd, err := wire.DecodeClientData(buf)
	if err != nil {
		t.Fatalf("decode client data: %v", err)
	}
	return cd
}

func TestPollConnectsAndAnnouncesClient(t *testing.T) {
	path, ln := listen(t)
	c := New(path, throttle.New(1, 0))
	defer c.Close()

	c.Poll()
	if !c.Connected() {
		t.Fatal("client did not connect")
	}
	if !c.ShouldInit() {
		t.Fatal("connected idle client must want init")
	}

	conn := accept(t, ln)
	cd := readClientData(t, conn)
	if cd.Exe == "" {
		t.Fatal("client data carries no executable name")
	}
}

func TestAnnounceDeliversDescriptorAndPlaneFds(t *testing.T) {
	path, ln := listen(t)
	c := New(path, throttle.New(1, 0))
	defer c.Close()

	c.Poll()
	conn := accept(t, ln)
	readClientData(t, conn)

	fds := make([]int, 2)
	for i := range fds {
		p := make([]int, 2)
		if err := unix.Pipe(p); err != nil {
			t.Fatalf("pipe: %v", err)
		}
		unix.Close(p[1])
		fds[i] = p[0]
		defer unix.Close(p[0])
	}

	td := wire.TextureData{
		Width: 1920, Height: 1080, Format: 44,
		Stride: 7680, Modifier: 0x00ffffffffffffff,
		Planes: 2, WindowID: 7,
	}
	c.Announce(td, fds)
	if c.ShouldInit() {
		t.Fatal("client must be capturing after announce")
	}

	buf := make([]byte, wire.TextureDataSize)
	oob := make([]byte, unix.CmsgSpace(2*4))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		t.Fatalf("read texture data: %v", err)
	}
	got, err := wire.DecodeTextureData(buf[:n])
	if err != nil {
		t.Fatalf("decode texture data: %v", err)
	}
	if got != td {
		t.Fatalf("texture data = %+v, want %+v", got, td)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		t.Fatalf("parse control messages: %v", err)
	}
	received := 0
	for _, msg := range msgs {
		rfds, err := unix.ParseUnixRights(&msg)
		if err != nil {
			t.Fatalf("parse rights: %v", err)
		}
		received += len(rfds)
		for _, fd := range rfds {
			unix.Close(fd)
		}
	}
	if received != 2 {
		t.Fatalf("received %d plane fds, want 2", received)
	}
}

func TestPollDetectsConsumerGone(t *testing.T) {
	path, ln := listen(t)
	c := New(path, throttle.New(1, 0))
	defer c.Close()

	c.Poll()
	conn := accept(t, ln)
	readClientData(t, conn)

	td := wire.TextureData{Width: 16, Height: 16, Planes: 1}
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	unix.Close(p[1])
	defer unix.Close(p[0])
	c.Announce(td, p[:1])

	conn.Close()
	// EOF may take one extra poll to surface after the close.
	for i := 0; i < 10 && !c.ShouldStop(); i++ {
		time.Sleep(10 * time.Millisecond)
		c.Poll()
	}
	if !c.ShouldStop() {
		t.Fatal("client never noticed the consumer going away")
	}
	if c.Connected() {
		t.Fatal("client still marked connected")
	}
}

func TestPollTreatsLivenessByteAsAlive(t *testing.T) {
	path, ln := listen(t)
	c := New(path, throttle.New(1, 0))
	defer c.Close()

	c.Poll()
	conn := accept(t, ln)
	readClientData(t, conn)

	if _, err := conn.Write([]byte{0}); err != nil {
		t.Fatalf("write go byte: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	c.Poll()
	c.Poll()
	if !c.Connected() {
		t.Fatal("liveness byte dropped the connection")
	}
}

func TestThrottleGatesConnectAttempts(t *testing.T) {
	path, _ := listen(t)
	c := New(path, throttle.New(3, 0))
	defer c.Close()

	c.Poll()
	c.Poll()
	if c.Connected() {
		t.Fatal("connect attempted before the throttle window closed")
	}
	c.Poll()
	if !c.Connected() {
		t.Fatal("connect not attempted when the window closed")
	}
}
