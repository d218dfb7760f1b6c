//go:build unix

package discovery

import "syscall"

func setBroadcast(conn syscall.RawConn) error {
	var serr error
	err := conn.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
