// Package broker implements the consumer side of the capture protocol: a
// unix socket listener that accepts capture clients, receives frame
// descriptors with their plane file descriptors, and arbitrates exactly one
// active producer via a one-byte go signal.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/ipc"
	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/wire"
	"github.com/framelink-io/framelink/internal/workerpool"
)

// Reconnect budget per UID. A crash-looping game reconnects once per
// restart; anything past this rate is refused until the window slides.
const (
	connectBurst  = 32
	connectWindow = 10 * time.Second
)

var log = logging.L("broker")

// Frame is the latest descriptor received from one client. Fds are owned by
// the broker; Latest hands out duplicates.
type Frame struct {
	Texture  wire.TextureData
	BufferID uint64
	Fds      []int
}

// FrameEvent is published to subscribers whenever a client's frame is
// replaced.
type FrameEvent struct {
	ClientID uint64 `json:"clientId"`
	BufferID uint64 `json:"bufferId"`
}

// ClientInfo is a status snapshot of one connected client.
type ClientInfo struct {
	ID       uint64 `json:"id"`
	Exe      string `json:"exe"`
	PID      int    `json:"pid,omitempty"`
	UID      uint32 `json:"uid"`
	Binary   string `json:"binary,omitempty"`
	Active   bool   `json:"active"`
	BufferID uint64 `json:"bufferId"`
}

// Options configures a Broker.
type Options struct {
	// SocketPath is the well-known listener path. A stale socket file is
	// removed before binding; the new one is opened up to mode 0666 so
	// capture clients under any uid can connect.
	SocketPath string
	// MaxClients caps concurrent capture clients.
	MaxClients int
	// PollInterval bounds how often active-client selection runs and
	// therefore how long shutdown can lag.
	PollInterval time.Duration
}

type clientConn struct {
	id    uint64
	conn  *net.UnixConn
	exe   string
	creds *ipc.PeerCredentials
	frame *Frame
}

// Broker accepts capture clients and tracks their latest frames.
type Broker struct {
	opts    Options
	pool    *workerpool.Pool
	limiter *ipc.RateLimiter

	mu       sync.Mutex
	ln       *net.UnixListener
	clients  map[uint64]*clientConn
	order    []uint64
	activeID uint64
	nextID   uint64
	nextBuf  uint64
	subs     map[chan FrameEvent]struct{}
	stopped  bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a stopped broker.
func New(opts Options) *Broker {
	if opts.MaxClients < 1 {
		opts.MaxClients = 16
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Broker{
		opts:    opts,
		pool:    workerpool.New(opts.MaxClients, opts.MaxClients),
		limiter: ipc.NewRateLimiter(connectBurst, connectWindow),
		clients: make(map[uint64]*clientConn),
		subs:    make(map[chan FrameEvent]struct{}),
	}
}

// Start binds the socket and launches the accept and selection loops.
func (b *Broker) Start(ctx context.Context) error {
	// A leftover socket file from a previous run would make the bind fail.
	if err := os.Remove(b.opts.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("broker: remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: b.opts.SocketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}
	if err := os.Chmod(b.opts.SocketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("broker: chmod socket: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.ln = ln
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(2)
	go b.acceptLoop(ln)
	go b.selectLoop(ctx)

	log.Info("listening", "path", b.opts.SocketPath, "maxClients", b.opts.MaxClients)
	return nil
}

// Stop closes the listener and every client, waits for the loops and the
// readers, and unlinks the socket path. Frame descriptors are closed exactly
// once as their owning clients are removed.
func (b *Broker) Stop(ctx context.Context) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	ln := b.ln
	conns := make([]*net.UnixConn, 0, len(b.clients))
	for _, c := range b.clients {
		conns = append(conns, c.conn)
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}

	b.wg.Wait()
	b.pool.Shutdown(ctx)

	b.mu.Lock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan FrameEvent]struct{})
	b.mu.Unlock()

	os.Remove(b.opts.SocketPath)
	log.Info("stopped")
}

func (b *Broker) acceptLoop(ln *net.UnixListener) {
	defer b.wg.Done()
	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			return
		}
		b.admit(conn)
	}
}

func (b *Broker) admit(conn *net.UnixConn) {
	creds, err := ipc.GetPeerCredentials(conn)
	if err != nil {
		log.Warn("peer credentials unavailable", logging.KeyError, err)
	} else if !b.limiter.Allow(creds.UID) {
		log.Warn("client refused", "reason", "reconnect rate", "uid", creds.UID)
		conn.Close()
		return
	}

	b.mu.Lock()
	if b.stopped || len(b.clients) >= b.opts.MaxClients {
		b.mu.Unlock()
		log.Warn("client refused", "reason", "at capacity")
		conn.Close()
		return
	}
	b.nextID++
	c := &clientConn{id: b.nextID, conn: conn, creds: creds}
	b.clients[c.id] = c
	b.order = append(b.order, c.id)
	b.mu.Unlock()

	if !b.pool.Submit(func() { b.read(c) }) {
		b.remove(c)
		return
	}
	if creds != nil {
		log.Info("client connected", logging.KeyClientID, c.id,
			"pid", creds.PID, "uid", creds.UID, "binary", creds.BinaryPath)
	} else {
		log.Info("client connected", logging.KeyClientID, c.id)
	}
}

// read consumes one client's stream until it ends. The tag byte is read
// with an ancillary buffer so SCM_RIGHTS descriptors attach to a known
// record boundary; the fixed remainder is then read without one.
func (b *Broker) read(c *clientConn) {
	defer b.remove(c)

	clog := logging.WithClient(log, c.id)
	tag := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(wire.MaxPlanes*4))

	for {
		n, oobn, flags, _, err := c.conn.ReadMsgUnix(tag, oob)
		if err != nil || n == 0 {
			return
		}

		fds, perr := parseRights(oob[:oobn])
		if perr != nil {
			clog.Warn("bad ancillary data, disconnecting", logging.KeyError, perr)
			closeAll(fds)
			return
		}
		if flags&unix.MSG_CTRUNC != 0 {
			clog.Warn("ancillary data truncated, disconnecting")
			closeAll(fds)
			return
		}

		body, err := wire.BodySize(tag[0])
		if err != nil {
			clog.Warn("unknown record, disconnecting", logging.KeyError, err)
			closeAll(fds)
			return
		}
		rest := make([]byte, body)
		if _, err := io.ReadFull(c.conn, rest); err != nil {
			closeAll(fds)
			return
		}
		record := append(tag[:1:1], rest...)

		switch tag[0] {
		case wire.TypeClientData:
			if len(fds) != 0 {
				clog.Warn("client record carried descriptors, disconnecting")
				closeAll(fds)
				return
			}
			cd, err := wire.DecodeClientData(record)
			if err != nil {
				clog.Warn("bad client record, disconnecting", logging.KeyError, err)
				return
			}
			b.mu.Lock()
			c.exe = cd.Exe
			b.mu.Unlock()
			clog.Info("client identified", "exe", cd.Exe)

		case wire.TypeTextureData:
			td, err := wire.DecodeTextureData(record)
			if err != nil {
				clog.Warn("bad texture record, disconnecting", logging.KeyError, err)
				closeAll(fds)
				return
			}
			if len(fds) != int(td.Planes) {
				clog.Warn("plane count mismatch, disconnecting",
					"declared", td.Planes, "received", len(fds))
				closeAll(fds)
				return
			}
			b.store(c, td, fds)
			clog.Info("frame descriptor received",
				"width", td.Width, "height", td.Height, "planes", td.Planes)
		}
	}
}

// store replaces the client's frame under the lock and closes the superseded
// descriptors exactly once.
func (b *Broker) store(c *clientConn, td wire.TextureData, fds []int) {
	b.mu.Lock()
	old := c.frame
	b.nextBuf++
	c.frame = &Frame{Texture: td, BufferID: b.nextBuf, Fds: fds}
	ev := FrameEvent{ClientID: c.id, BufferID: b.nextBuf}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscribers miss events rather than stall frame intake.
		}
	}
	b.mu.Unlock()

	if old != nil {
		closeAll(old.Fds)
		old.Fds = nil
	}
}

func (b *Broker) remove(c *clientConn) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c.id)
	for i, id := range b.order {
		if id == c.id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.activeID == c.id {
		b.activeID = 0
	}
	frame := c.frame
	c.frame = nil
	b.mu.Unlock()

	if frame != nil {
		closeAll(frame.Fds)
		frame.Fds = nil
	}
	c.conn.Close()
	log.Info("client removed", logging.KeyClientID, c.id)
}

// selectLoop runs active-client selection on a bounded period. When no
// client holds the baton, the earliest-connected one is sent the go byte and
// marked active even when the write fails; a dead client surfaces on its
// reader, gets removed, and the next cycle re-selects.
func (b *Broker) selectLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.selectActive()
		}
	}
}

func (b *Broker) selectActive() {
	b.mu.Lock()
	if b.activeID != 0 || len(b.order) == 0 {
		b.mu.Unlock()
		return
	}
	c := b.clients[b.order[0]]
	b.activeID = c.id
	b.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := c.conn.Write([]byte{1}); err != nil {
		log.Warn("go byte write failed", logging.KeyClientID, c.id, logging.KeyError, err)
	} else {
		log.Info("client activated", logging.KeyClientID, c.id)
	}
}

// Latest returns a snapshot of the client's newest frame. The returned
// descriptors are duplicates the caller owns and must close.
func (b *Broker) Latest(clientID uint64) (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients[clientID]
	if !ok || c.frame == nil {
		return Frame{}, false
	}

	dups := make([]int, 0, len(c.frame.Fds))
	for _, fd := range c.frame.Fds {
		d, err := unix.Dup(fd)
		if err != nil {
			closeAll(dups)
			return Frame{}, false
		}
		dups = append(dups, d)
	}
	return Frame{Texture: c.frame.Texture, BufferID: c.frame.BufferID, Fds: dups}, true
}

// Clients returns status snapshots in connection order.
func (b *Broker) Clients() []ClientInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]ClientInfo, 0, len(b.order))
	for _, id := range b.order {
		c := b.clients[id]
		info := ClientInfo{ID: c.id, Exe: c.exe, Active: c.id == b.activeID}
		if c.creds != nil {
			info.PID = c.creds.PID
			info.UID = c.creds.UID
			info.Binary = c.creds.BinaryPath
		}
		if c.frame != nil {
			info.BufferID = c.frame.BufferID
		}
		out = append(out, info)
	}
	return out
}

// Active returns the id of the client holding the baton, zero when none.
func (b *Broker) Active() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeID
}

// Subscribe registers a frame-event channel. The returned cancel function
// unsubscribes; the channel closes on cancel or broker stop.
func (b *Broker) Subscribe() (<-chan FrameEvent, func()) {
	ch := make(chan FrameEvent, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		rights, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			return fds, fmt.Errorf("parse rights: %w", err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}
