// Package procconn owns the kernel proc connector socket: opening it,
// subscribing to process events, and receiving raw datagrams.
//
// Datagrams are returned undecoded; see package procevent for the wire format.
package procconn

import "errors"

// ReceiveBufferSize bounds a single datagram. Proc connector records are far
// smaller, and the kernel may pack several into one datagram.
const ReceiveBufferSize = 4096

var (
	// ErrChannel is returned when the socket cannot be opened, bound, written or read.
	ErrChannel = errors.New("proc connector channel error")
	// ErrClosed is returned by Receive once Close has been called.
	ErrClosed = errors.New("proc connector channel closed")
	// ErrOverrun is returned by Receive when the kernel dropped events because
	// the socket buffer was full. The channel stays usable.
	ErrOverrun = errors.New("proc connector receive buffer overrun")
)
