package broker

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/client"
	"github.com/framelink-io/framelink/internal/throttle"
	"github.com/framelink-io/framelink/internal/wire"
)

func startBroker(t *testing.T, maxClients int) (*Broker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.sock")
	b := New(Options{
		SocketPath:   path,
		MaxClients:   maxClients,
		PollInterval: 20 * time.Millisecond,
	})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.Stop(ctx)
	})
	return b, path
}

func dial(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendClientData(t *testing.T, conn *net.UnixConn, exe string) {
	t.Helper()
	cd := wire.ClientData{Exe: exe}
	if _, err := conn.Write(cd.Encode()); err != nil {
		t.Fatalf("send client data: %v", err)
	}
}

// planeFd returns a pipe read end whose stream is exactly payload.
func planeFd(t *testing.T, payload []byte) int {
	t.Helper()
	p := make([]int, 2)
	if err := unix.Pipe(p); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if _, err := unix.Write(p[1], payload); err != nil {
		t.Fatalf("fill pipe: %v", err)
	}
	unix.Close(p[1])
	return p[0]
}

func sendTexture(t *testing.T, conn *net.UnixConn, td wire.TextureData, fds []int) {
	t.Helper()
	buf, err := td.Encode()
	if err != nil {
		t.Fatalf("encode texture: %v", err)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if _, _, err := conn.WriteMsgUnix(buf, oob, nil); err != nil {
		t.Fatalf("send texture: %v", err)
	}
	// The broker holds its own copies once received.
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func readFd(t *testing.T, fd int) []byte {
	t.Helper()
	f := os.NewFile(uintptr(fd), "plane")
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read plane fd: %v", err)
	}
	return data
}

func TestFrameStoredBitForBitWithEveryPlaneCount(t *testing.T) {
	b, path := startBroker(t, 8)

	for k := 1; k <= wire.MaxPlanes; k++ {
		conn := dial(t, path)
		sendClientData(t, conn, fmt.Sprintf("game-%d", k))

		var payloads [][]byte
		var fds []int
		for i := 0; i < k; i++ {
			p := []byte(fmt.Sprintf("plane-%d-of-%d", i, k))
			payloads = append(payloads, p)
			fds = append(fds, planeFd(t, p))
		}
		td := wire.TextureData{
			Width: 1920, Height: 1080, Format: 44,
			Stride: 7680, Offset: 0,
			Modifier: 0x00ffffffffffffff,
			Planes:   uint8(k), WindowID: uint32(k),
		}
		sendTexture(t, conn, td, fds)

		var id uint64
		waitFor(t, "frame stored", func() bool {
			for _, ci := range b.Clients() {
				if ci.Exe == fmt.Sprintf("game-%d", k) && ci.BufferID > 0 {
					id = ci.ID
					return true
				}
			}
			return false
		})

		frame, ok := b.Latest(id)
		if !ok {
			t.Fatalf("no frame for client %d", id)
		}
		if frame.Texture != td {
			t.Fatalf("stored texture = %+v, want %+v", frame.Texture, td)
		}
		if len(frame.Fds) != k {
			t.Fatalf("frame carries %d fds, want %d", len(frame.Fds), k)
		}
		for i, fd := range frame.Fds {
			if got := readFd(t, fd); string(got) != string(payloads[i]) {
				t.Fatalf("plane %d content = %q, want %q", i, got, payloads[i])
			}
		}
	}
}

func TestFirstFrameGetsBufferIDOne(t *testing.T) {
	b, path := startBroker(t, 4)
	conn := dial(t, path)
	sendClientData(t, conn, "game")

	td := wire.TextureData{Width: 1920, Height: 1080, Planes: 1}
	sendTexture(t, conn, td, []int{planeFd(t, []byte("x"))})

	waitFor(t, "frame stored", func() bool {
		for _, ci := range b.Clients() {
			if ci.BufferID == 1 {
				return true
			}
		}
		return false
	})
}

func TestSupersededFrameReplacedAndOldDescriptorsClosed(t *testing.T) {
	b, path := startBroker(t, 4)
	conn := dial(t, path)
	sendClientData(t, conn, "game")

	td := wire.TextureData{Width: 640, Height: 480, Planes: 1}
	sendTexture(t, conn, td, []int{planeFd(t, []byte("first"))})
	waitFor(t, "first frame", func() bool {
		cs := b.Clients()
		return len(cs) == 1 && cs[0].BufferID == 1
	})

	baseline := openFdCount(t)
	sendTexture(t, conn, td, []int{planeFd(t, []byte("second"))})
	waitFor(t, "second frame", func() bool {
		cs := b.Clients()
		return len(cs) == 1 && cs[0].BufferID == 2
	})
	// One descriptor in, one superseded descriptor out.
	waitFor(t, "old descriptor closed", func() bool { return openFdCount(t) == baseline })

	id := b.Clients()[0].ID
	frame, ok := b.Latest(id)
	if !ok {
		t.Fatal("no frame after supersede")
	}
	if frame.BufferID != 2 {
		t.Fatalf("buffer id = %d, want 2", frame.BufferID)
	}
	if got := readFd(t, frame.Fds[0]); string(got) != "second" {
		t.Fatalf("plane content = %q, want the superseding frame", got)
	}
}

func TestPlaneCountMismatchDisconnectsWithoutLeaks(t *testing.T) {
	b, path := startBroker(t, 4)
	baseline := openFdCount(t)

	conn := dial(t, path)
	sendClientData(t, conn, "liar")
	waitFor(t, "client connected", func() bool { return len(b.Clients()) == 1 })

	td := wire.TextureData{Width: 64, Height: 64, Planes: 3}
	sendTexture(t, conn, td, []int{planeFd(t, []byte("only-one"))})

	waitFor(t, "client disconnected", func() bool { return len(b.Clients()) == 0 })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("connection still open after protocol violation")
	}
	conn.Close()
	waitFor(t, "all descriptors released", func() bool { return openFdCount(t) == baseline })
}

func TestActiveClientBatonAndReselection(t *testing.T) {
	b, path := startBroker(t, 4)

	first := dial(t, path)
	sendClientData(t, first, "first")
	waitFor(t, "first client active", func() bool { return b.Active() != 0 })
	firstID := b.Active()

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := first.Read(buf); err != nil {
		t.Fatalf("first client never got the go byte: %v", err)
	}

	second := dial(t, path)
	sendClientData(t, second, "second")
	waitFor(t, "second client registered", func() bool { return len(b.Clients()) == 2 })

	// The baton does not move while its holder lives.
	time.Sleep(100 * time.Millisecond)
	if b.Active() != firstID {
		t.Fatalf("baton moved to %d while holder alive", b.Active())
	}

	first.Close()
	waitFor(t, "baton reselected", func() bool {
		a := b.Active()
		return a != 0 && a != firstID
	})

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(buf); err != nil {
		t.Fatalf("second client never got the go byte: %v", err)
	}
}

func TestDeadHolderGoByteFailureDoesNotStallSelection(t *testing.T) {
	b, path := startBroker(t, 4)

	// Shut the first client's read side before any selection tick: the go
	// byte write to it fails while its reader connection still looks alive.
	first := dial(t, path)
	if err := first.CloseRead(); err != nil {
		t.Fatalf("close read: %v", err)
	}
	sendClientData(t, first, "doomed")
	waitFor(t, "first client registered", func() bool { return len(b.Clients()) == 1 })
	firstID := b.Clients()[0].ID

	second := dial(t, path)
	sendClientData(t, second, "survivor")
	waitFor(t, "second client registered", func() bool { return len(b.Clients()) == 2 })

	// The failed write is logged, not fatal: the holder is still marked
	// active so selection does not spin on it.
	waitFor(t, "baton handed despite the failed write", func() bool { return b.Active() == firstID })

	first.Close()
	waitFor(t, "survivor activated", func() bool {
		a := b.Active()
		return a != 0 && a != firstID
	})

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err != nil {
		t.Fatalf("survivor never got the go byte: %v", err)
	}

	// The broker keeps serving traffic after the failed write.
	sendTexture(t, second, wire.TextureData{Width: 16, Height: 16, Planes: 1},
		[]int{planeFd(t, []byte("x"))})
	waitFor(t, "survivor frame stored", func() bool {
		for _, ci := range b.Clients() {
			if ci.Exe == "survivor" && ci.BufferID == 1 {
				return true
			}
		}
		return false
	})
}

func TestSubscribeDeliversFrameEvents(t *testing.T) {
	b, path := startBroker(t, 4)
	events, cancel := b.Subscribe()
	defer cancel()

	conn := dial(t, path)
	sendClientData(t, conn, "game")
	td := wire.TextureData{Width: 32, Height: 32, Planes: 1}
	sendTexture(t, conn, td, []int{planeFd(t, []byte("x"))})

	select {
	case ev := <-events:
		if ev.BufferID != 1 || ev.ClientID == 0 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no frame event delivered")
	}

	cancel()
	if _, open := <-events; open {
		t.Fatal("event channel still open after cancel")
	}
}

func TestCapacityRefusesExtraClients(t *testing.T) {
	b, path := startBroker(t, 1)

	first := dial(t, path)
	sendClientData(t, first, "first")
	waitFor(t, "first client", func() bool { return len(b.Clients()) == 1 })

	second := dial(t, path)
	second.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Fatal("over-capacity client was not dropped")
	}
	if len(b.Clients()) != 1 {
		t.Fatalf("%d clients registered, want 1", len(b.Clients()))
	}
}

func TestStopClosesClientsAndUnlinksSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.sock")
	b := New(Options{SocketPath: path, MaxClients: 4, PollInterval: 20 * time.Millisecond})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn := dial(t, path)
	sendClientData(t, conn, "game")
	sendTexture(t, conn, wire.TextureData{Width: 8, Height: 8, Planes: 1},
		[]int{planeFd(t, []byte("x"))})
	waitFor(t, "frame stored", func() bool {
		cs := b.Clients()
		return len(cs) == 1 && cs[0].BufferID > 0
	})

	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()
	b.Stop(ctx)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("socket file survived stop")
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("client connection survived stop")
	}
}

func TestRealClientEndToEnd(t *testing.T) {
	b, path := startBroker(t, 4)

	c := client.New(path, throttle.New(1, 0))
	defer c.Close()

	c.Poll()
	waitFor(t, "client registered", func() bool { return len(b.Clients()) == 1 })
	if !c.ShouldInit() {
		t.Fatal("connected client must want init")
	}

	td := wire.TextureData{
		Width: 1920, Height: 1080, Format: 44,
		Stride: 7680, Modifier: 0x00ffffffffffffff, Planes: 1,
	}
	fd := planeFd(t, []byte("frame"))
	defer unix.Close(fd)
	c.Announce(td, []int{fd})

	waitFor(t, "frame stored", func() bool {
		cs := b.Clients()
		return len(cs) == 1 && cs[0].BufferID == 1
	})
	frame, ok := b.Latest(b.Clients()[0].ID)
	if !ok {
		t.Fatal("no frame from real client")
	}
	defer closeAll(frame.Fds)
	if frame.Texture != td {
		t.Fatalf("stored texture = %+v, want %+v", frame.Texture, td)
	}

	waitFor(t, "client activated", func() bool { return b.Active() != 0 })
	// The go byte keeps the client marked alive on its next poll.
	time.Sleep(50 * time.Millisecond)
	c.Poll()
	if c.ShouldStop() {
		t.Fatal("client considers the live consumer gone")
	}
}

func openFdCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		t.Skipf("cannot inspect fd table: %v", err)
	}
	return len(entries)
}

func TestClientInfoCarriesPeerIdentity(t *testing.T) {
	b, path := startBroker(t, 4)

	conn := dial(t, path)
	sendClientData(t, conn, "self-test")
	waitFor(t, "client registered", func() bool { return len(b.Clients()) == 1 })

	ci := b.Clients()[0]
	if ci.PID != os.Getpid() {
		t.Fatalf("peer pid = %d, want %d", ci.PID, os.Getpid())
	}
	if ci.UID != uint32(os.Getuid()) {
		t.Fatalf("peer uid = %d, want %d", ci.UID, os.Getuid())
	}
	if ci.Exe != "self-test" {
		t.Fatalf("exe = %q, want the announced name", ci.Exe)
	}
}
