//go:build !linux

package socket

// applyDeferAccept is a no-op outside Linux: neither Darwin's
// TCP_CONNECTIONTIMEOUT-adjacent knobs nor BSD sockets expose a direct
// analogue of TCP_DEFER_ACCEPT worth reproducing here.
func applyDeferAccept(fd int) error {
	return nil
}

// outboundQueueLenFD reports "not supported" on non-Linux platforms, per
// spec.md §4.1: "Where the OS cannot report the queue length, this
// operation is a no-op."
func outboundQueueLenFD(fd int) (n int, ok bool, err error) {
	return 0, false, nil
}
