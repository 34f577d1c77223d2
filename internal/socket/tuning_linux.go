//go:build linux

package socket

import (
	"golang.org/x/sys/unix"
)

// applyDeferAccept sets TCP_DEFER_ACCEPT, mirroring
// shockwave/pkg/shockwave/socket/tuning_linux.go; x/sys/unix already names
// this constant, so we use unix.TCP_DEFER_ACCEPT directly instead of
// hand-rolling the numeric value the way the teacher did for its own
// vendored constant table.
func applyDeferAccept(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 5)
}

// outboundQueueLenFD reads SIOCOUTQ: the number of bytes in the socket's
// send buffer that have not yet been acknowledged by the peer. This is the
// Go equivalent of the FIONWRITE ioctl the source polls in
// TContBIO::WaitUntilWritten.
func outboundQueueLenFD(fd int) (n int, ok bool, err error) {
	v, err := unix.IoctlGetInt(fd, unix.SIOCOUTQ)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
