//go:build !linux

package procconn

import "fmt"

// Channel is unavailable outside Linux.
type Channel struct{}

// Open always fails: the proc connector is a Linux interface.
func Open() (*Channel, error) {
	return nil, fmt.Errorf("%w: proc connector requires linux", ErrChannel)
}

func (c *Channel) Subscribe() error { return ErrClosed }
func (c *Channel) Receive() ([]byte, error) { return nil, ErrClosed }
func (c *Channel) Close() error { return nil }
