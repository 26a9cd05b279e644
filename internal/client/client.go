// Package client implements the capture side of the socket protocol: a raw
// non-blocking unix socket that never stalls the present path. Connection
// attempts and liveness reads are throttled; descriptors travel as
// SCM_RIGHTS ancillary data.
package client

import (
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/framelink-io/framelink/internal/logging"
	"github.com/framelink-io/framelink/internal/throttle"
	"github.com/framelink-io/framelink/internal/wire"
)

var log = logging.L("client")

// Client is a capture transport over a unix socket. It satisfies the
// capture layer's Transport interface. All methods are non-blocking.
type Client struct {
	path string
	exe  string
	th   *throttle.Throttle

	mu        sync.Mutex
	fd        int
	capturing bool
}

// New creates a disconnected client for the broker socket at path. The
// throttle bounds how often Poll does real work; every other invocation
// returns immediately.
func New(path string, th *throttle.Throttle) *Client {
	exe := "unknown"
	if p, err := os.Executable(); err == nil {
		exe = filepath.Base(p)
	}
	return &Client{path: path, exe: exe, th: th, fd: -1}
}

// Poll performs one throttled liveness step: a connect attempt while
// disconnected, a non-blocking one-byte read while connected. A read byte
// or a would-block condition means the consumer is alive; end of stream or
// a hard error drops the connection. Connection resets are an expected
// consumer restart, not an error worth logging.
func (c *Client) Poll() {
	if !c.th.Allow() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fd < 0 {
		c.connectLocked()
		return
	}

	var buf [1]byte
	n, err := unix.Read(c.fd, buf[:])
	switch {
	case n > 0:
		// Consumer is alive; the byte content carries no meaning.
	case n == 0 && err == nil:
		c.closeLocked()
	case err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR:
		// No liveness traffic this window.
	case err == unix.ECONNRESET:
		c.closeLocked()
	default:
		log.Warn("liveness read failed", logging.KeyError, err)
		c.closeLocked()
	}
}

// ShouldInit reports that the consumer is reachable and no capture runs yet.
func (c *Client) ShouldInit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd >= 0 && !c.capturing
}

// ShouldStop reports that a capture runs but the consumer is gone.
func (c *Client) ShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing && c.fd < 0
}

// Announce sends the frame descriptor with its plane descriptors attached as
// ancillary data, and marks the session capturing whether or not the send
// went through; a failed send surfaces as a dead connection on the next
// poll, which stops the capture through the normal path.
func (c *Client) Announce(td wire.TextureData, fds []int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capturing = true
	if c.fd < 0 {
		return
	}

	buf, err := td.Encode()
	if err != nil {
		log.Warn("frame descriptor rejected", logging.KeyError, err)
		return
	}
	oob := unix.UnixRights(fds...)
	if err := unix.Sendmsg(c.fd, buf, oob, nil, 0); err != nil {
		if err != unix.EPIPE && err != unix.ECONNRESET {
			log.Warn("frame announce failed", logging.KeyError, err)
		}
		c.closeLocked()
	}
}

// StopCapture clears the capturing mark.
func (c *Client) StopCapture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capturing = false
}

// Connected reports whether the socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fd >= 0
}

// Close drops the connection. The capturing mark is left alone so a final
// ShouldStop transition still fires.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) connectLocked() {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return
	}
	addr := &unix.SockaddrUnix{Name: c.path}
	if err := unix.Connect(fd, addr); err != nil {
		unix.Close(fd)
		return
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return
	}
	c.fd = fd

	cd := wire.ClientData{Exe: c.exe}
	if _, err := unix.Write(fd, cd.Encode()); err != nil {
		log.Warn("client announce failed", logging.KeyError, err)
		c.closeLocked()
		return
	}
	log.Info("connected to consumer", "path", c.path, "exe", c.exe)
}

func (c *Client) closeLocked() {
	if c.fd < 0 {
		return
	}
	unix.Close(c.fd)
	c.fd = -1
}
