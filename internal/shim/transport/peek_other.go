//go:build !unix

package transport

import "net"

// peekByte has no MSG_PEEK equivalent outside unix; WarpGrid's deployment
// targets are unix hosts, so this consuming fallback only matters for
// local development on other platforms and is not exercised in production.
func peekByte(conn net.Conn, buf []byte) (int, error) {
	return conn.Read(buf)
}
