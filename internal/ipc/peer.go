// Package ipc identifies and rate-limits peers on the capture socket. The
// broker trusts the kernel-verified SO_PEERCRED identity over anything a
// client announces about itself.
package ipc

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// PeerCredentials is the kernel-verified identity of a capture client.
type PeerCredentials struct {
	PID int
	UID uint32
	GID uint32
	// BinaryPath is resolved from /proc/<pid>/exe; empty when the process
	// exited before the lookup or /proc is unreadable.
	BinaryPath string
}

// GetPeerCredentials returns the peer's PID/UID/GID via SO_PEERCRED and
// best-effort resolves its binary path.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("ipc: not a unix connection")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("ipc: get syscall conn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("ipc: control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("ipc: getsockopt SO_PEERCRED: %w", credErr)
	}

	p := &PeerCredentials{
		PID: int(cred.Pid),
		UID: cred.Uid,
		GID: cred.Gid,
	}
	if exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", cred.Pid)); err == nil {
		p.BinaryPath = exe
	}
	return p, nil
}
