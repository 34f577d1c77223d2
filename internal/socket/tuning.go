// Package socket applies the handful of raw socket options this transport
// depends on: TCP_NODELAY on freshly dialed outbound sockets (spec.md
// §4.3's PrepareSocket), deferred-accept on the inbound listener (spec.md
// §4.6's "deferred-accept bind"), and outbound-queue-length polling used by
// the ByteStreamAdapter's WaitUntilWritten (spec.md §4.1).
//
// Ported from shockwave/pkg/shockwave/socket/tuning.go, trimmed to the
// options this transport actually uses — no receive/send buffer tuning,
// no QuickACK, no TCP Fast Open, since spec.md names none of those.
package socket

import (
	"net"
)

// PrepareOutbound disables Nagle's algorithm on a freshly connected
// outbound socket, matching https.cpp's PrepareSocket().
func PrepareOutbound(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tcpConn.SetNoDelay(true)
}

// PrepareListener applies deferred-accept to an inbound TCP listener: the
// kernel withholds the accept-worthy event until data has actually arrived,
// so accepted sockets are never empty half-open connections.
func PrepareListener(l net.Listener) error {
	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		return nil
	}
	file, err := tcpListener.File()
	if err != nil {
		return err
	}
	defer file.Close()
	return applyDeferAccept(int(file.Fd()))
}

// OutboundQueueLen returns the number of bytes still unacknowledged in the
// kernel's outbound send queue for conn, using SIOCOUTQ where the platform
// supports it. ok is false where the platform cannot report this (spec.md
// §4.1: "Where the OS cannot report the queue length, this operation is a
// no-op").
func OutboundQueueLen(conn net.Conn) (n int, ok bool, err error) {
	tcpConn, isTCP := conn.(*net.TCPConn)
	if !isTCP {
		return 0, false, nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return 0, false, err
	}

	var (
		queued  int
		reported bool
		ctlErr  error
	)
	cerr := rawConn.Control(func(fd uintptr) {
		queued, reported, ctlErr = outboundQueueLenFD(int(fd))
	})
	if cerr != nil {
		return 0, false, cerr
	}
	if ctlErr != nil {
		return 0, false, ctlErr
	}
	return queued, reported, nil
}
