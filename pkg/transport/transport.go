// Package transport holds the byte-level capabilities the driver is built on:
// a blocking byte sink, a non-blocking byte source and digital output pins.
package transport

import (
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrWouldBlock is returned by a ByteSource when no byte is ready yet.
	ErrWouldBlock = errors.New("transport: no data ready")
	// ErrClosed is returned once either end of a link has been closed.
	ErrClosed = errors.New("transport: closed")
)

// ByteSink writes a single byte, blocking until the link accepts it.
type ByteSink = io.ByteWriter

// ByteSource reads a single byte without blocking. It returns ErrWouldBlock
// when nothing has arrived; any other error is a transport failure.
type ByteSource = io.ByteReader

// OutputPin drives a digital control line such as the co-processor's EN or RST.
type OutputPin interface {
	SetHigh() error
	SetLow() error
}

// NopPin is an OutputPin for lines that are hard-wired on the board.
type NopPin struct{}

func (NopPin) SetHigh() error { return nil }
func (NopPin) SetLow() error  { return nil }

// WriteAll pushes p through sink one byte at a time.
func WriteAll(sink ByteSink, p []byte) error {
	for _, b := range p {
		if err := sink.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}
