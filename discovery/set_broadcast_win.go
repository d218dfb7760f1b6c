//go:build windows

package discovery

import "syscall"

func setBroadcast(conn syscall.RawConn) error {
	var serr error
	err := conn.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
