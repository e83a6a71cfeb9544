//go:build unix

package conn

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReusePort sets SO_REUSEADDR (always) and SO_REUSEPORT (best
// effort, ignored if the kernel rejects it) on the listening socket
// before bind, per §4.F "SO_REUSEADDR always; SO_REUSEPORT where
// available". No library in the retrieval pack wraps socket-option
// configuration, so this reaches directly for golang.org/x/sys/unix's
// setsockopt wrapper instead, with syscall.RawConn as the only bare
// stdlib syscall surface involved.
func controlReusePort(_ string, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		// SO_REUSEPORT is a best-effort convenience; older kernels and
		// some platforms under the unix build tag don't support it.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
