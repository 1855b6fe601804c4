/*
File Name:  Listener.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Sets up the inbound TCP listener with SO_REUSEADDR, so a restarted engine
can immediately rebind the default eD2K port while old sockets linger in
TIME_WAIT.
*/

package core

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// newReusableListener opens a TCP listener on addr with SO_REUSEADDR set.
func newReusableListener(addr string) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	return lc.Listen(context.Background(), "tcp", addr)
}
