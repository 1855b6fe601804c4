/*
File Name:  Socket.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Go's net package exposes no portable handle to the OS readiness primitive
(epoll/kqueue/IOCP) a true reactor would select() over. Per §9's allowance
for a substitute event loop, non-blocking reads/writes are simulated with
an immediate read/write deadline: the kernel still does the readiness
check, it is just expressed per-call instead of via a registered fd set
(§9 OQ-1).
*/

package core

import (
	"net"
	"time"
)

// connReadNonBlocking attempts one read of up to maxBytes without blocking.
// A zero-length result with a nil error means nothing was available.
func connReadNonBlocking(conn net.Conn, maxBytes int) (data []byte, err error) {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return nil, err
	}

	buf := make([]byte, maxBytes)
	n, readErr := conn.Read(buf)
	if n > 0 {
		data = buf[:n]
	}

	if readErr != nil && isWouldBlock(readErr) {
		return data, nil
	}
	return data, readErr
}

// connWriteNonBlocking attempts one write of the given bytes without blocking.
func connWriteNonBlocking(conn net.Conn, data []byte) (n int, err error) {
	if err := conn.SetWriteDeadline(time.Now()); err != nil {
		return 0, err
	}

	n, writeErr := conn.Write(data)
	if writeErr != nil && isWouldBlock(writeErr) {
		return n, nil
	}
	return n, writeErr
}

// isWouldBlock reports whether err represents a transient, retryable condition
// rather than a fatal one (§4.4, §7.1).
func isWouldBlock(err error) bool {
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}
