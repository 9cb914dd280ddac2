//go:build linux

package procconn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mrzor/pwd-tracer/internal/procevent"
)

// procEventsGroup is CN_IDX_PROC, the multicast group for process events.
const procEventsGroup = 0x1

// pollTimeout bounds how long a blocked Receive takes to notice Close.
const pollTimeout = 500 * time.Millisecond

// Channel is a proc connector subscription. It requires CAP_NET_ADMIN.
type Channel struct {
	fd     int
	portID uint32

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	// recvMu is held for the duration of a Receive so Close never releases
	// the descriptor under a blocked recvfrom.
	recvMu sync.Mutex
	buf    []byte
}

// Open creates the netlink socket and binds it to the proc events group.
func Open() (*Channel, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("%w: create netlink socket (requires CAP_NET_ADMIN or root): %w", ErrChannel, err)
	}

	portID := uint32(unix.Getpid()) //nolint:gosec // pid_t is 32-bit
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: procEventsGroup,
		Pid:    portID,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: bind netlink socket: %w", ErrChannel, err)
	}

	tv := unix.NsecToTimeval(pollTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("%w: set receive timeout: %w", ErrChannel, err)
	}

	return &Channel{
		fd:     fd,
		portID: portID,
		done:   make(chan struct{}),
		buf:    make([]byte, ReceiveBufferSize),
	}, nil
}

// Subscribe asks the kernel to start delivering process events.
func (c *Channel) Subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.send(procevent.ListenMessage(c.portID)); err != nil {
		return fmt.Errorf("%w: subscribe: %w", ErrChannel, err)
	}
	return nil
}

// Receive blocks until a datagram arrives and returns a copy of it.
func (c *Channel) Receive() ([]byte, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	for {
		select {
		case <-c.done:
			return nil, ErrClosed
		default:
		}

		n, _, err := unix.Recvfrom(c.fd, c.buf, 0)
		switch {
		case err == nil:
			return append([]byte(nil), c.buf[:n]...), nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ENOBUFS):
			return nil, fmt.Errorf("%w: %w", ErrOverrun, err)
		default:
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
			}
			return nil, fmt.Errorf("%w: receive: %w", ErrChannel, err)
		}
	}
}

// Close unsubscribes and releases the socket. It waits for an in-flight
// Receive to return, which takes at most pollTimeout. Repeated calls return nil.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	ignoreErr := c.send(procevent.IgnoreMessage(c.portID))
	c.mu.Unlock()

	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var closeErr error
	if err := unix.Close(c.fd); err != nil {
		closeErr = fmt.Errorf("%w: close: %w", ErrChannel, err)
	}
	if ignoreErr != nil {
		ignoreErr = fmt.Errorf("%w: unsubscribe: %w", ErrChannel, ignoreErr)
	}
	return errors.Join(ignoreErr, closeErr)
}

func (c *Channel) send(msg []byte) error {
	kernel := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: procEventsGroup,
	}
	return unix.Sendto(c.fd, msg, 0, kernel)
}
