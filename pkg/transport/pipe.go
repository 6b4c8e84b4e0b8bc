package transport

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// DefaultPipeSize is the capacity of each direction of a Pipe.
const DefaultPipeSize = 4096

// End is one side of an in-memory full-duplex link. Writes block while the
// peer's buffer is full; reads never block.
type End struct {
	rx     *ringbuffer.RingBuffer
	tx     *ringbuffer.RingBuffer
	closed *atomic.Bool
}

// NewPipe creates a linked pair of ends, each direction buffered by size bytes.
// Bytes written to host are read from device and vice versa.
func NewPipe(size int) (host *End, device *End) {
	if size <= 0 {
		size = DefaultPipeSize
	}
	up := ringbuffer.New(size)
	down := ringbuffer.New(size)
	closed := &atomic.Bool{}
	host = &End{rx: down, tx: up, closed: closed}
	device = &End{rx: up, tx: down, closed: closed}
	return host, device
}

func (e *End) WriteByte(b byte) error {
	for {
		if e.closed.Load() {
			return ErrClosed
		}
		err := e.tx.WriteByte(b)
		if err == nil {
			return nil
		}
		if err != ringbuffer.ErrIsFull {
			return err
		}
		runtime.Gosched()
	}
}

// Write implements io.Writer on top of WriteByte.
func (e *End) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := e.WriteByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (e *End) ReadByte() (byte, error) {
	b, err := e.rx.ReadByte()
	if err == nil {
		return b, nil
	}
	if err != ringbuffer.ErrIsEmpty {
		return 0, err
	}
	if e.closed.Load() {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

// Buffered reports how many bytes are waiting to be read on this end.
func (e *End) Buffered() int {
	return e.rx.Length()
}

// Close shuts both directions. Pending bytes can still be drained.
func (e *End) Close() error {
	e.closed.Store(true)
	return nil
}
