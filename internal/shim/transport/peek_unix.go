//go:build unix

package transport

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peekByte performs a non-destructive MSG_PEEK read of up to len(buf)
// bytes from the raw socket behind conn, honoring whatever read deadline
// is already set on conn. It never consumes bytes from the stream: a
// subsequent real Read still sees them. Returns (0, nil) on EOF, exactly
// as a consuming Read would, so callers can tell "peer closed" apart from
// "nothing pending yet" (surfaced as a timeout error).
func peekByte(conn net.Conn, buf []byte) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, errPeekUnsupported
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}

	var n int
	var sysErr error
	readErr := rc.Read(func(fd uintptr) bool {
		n, _, sysErr = unix.Recvfrom(int(fd), buf, unix.MSG_PEEK)
		return sysErr != unix.EAGAIN
	})
	if readErr != nil {
		// The read deadline set on conn expired while waiting for the fd
		// to become readable; readErr satisfies net.Error with Timeout().
		return 0, readErr
	}
	if sysErr != nil {
		return 0, sysErr
	}
	return n, nil
}
