// Package ingress consumes the co-processor's output, frames it into
// protocol Responses and routes each one to the reply queue or the
// notification queue.
package ingress

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ESP-AT/pkg/protocol"
	"ESP-AT/pkg/queue"
	"ESP-AT/pkg/transport"
)

// BufferSize is the largest frame Ingress can hold while it is incomplete.
const BufferSize = 1024

// idleSleep is how long Run backs off when the link has nothing to read.
const idleSleep = time.Millisecond

// Option configures New.
type Option func(*Ingress)

// WithLogger sets the logger for dropped frames and read failures.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingress) { in.logger = l }
}

// Ingress owns the receive side of the link and both producer halves. It
// never touches socket state.
type Ingress struct {
	rx            transport.ByteSource
	responses     queue.Producer[protocol.Response]
	notifications queue.Producer[protocol.Response]

	buf [BufferSize]byte
	pos int

	logger *zap.Logger
}

func New(rx transport.ByteSource, responses, notifications queue.Producer[protocol.Response], opts ...Option) *Ingress {
	in := &Ingress{
		rx:            rx,
		responses:     responses,
		notifications: notifications,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Poll reads every byte that is ready, then decodes and routes all complete
// frames. It reports whether any byte was read.
func (in *Ingress) Poll() (bool, error) {
	read := false
	for {
		if in.pos == len(in.buf) {
			in.drain()
			if in.pos == len(in.buf) {
				in.logger.Warn("discarding oversized frame", zap.Int("bytes", in.pos))
				in.pos = 0
			}
		}
		b, err := in.rx.ReadByte()
		if err != nil {
			in.drain()
			if errors.Is(err, transport.ErrWouldBlock) {
				return read, nil
			}
			return read, err
		}
		in.buf[in.pos] = b
		in.pos++
		read = true
	}
}

// drain decodes complete frames from the front of the buffer and shifts the
// remainder down.
func (in *Ingress) drain() {
	off := 0
	for off < in.pos {
		r, n, err := protocol.Parse(in.buf[off:in.pos])
		if err != nil {
			break
		}
		off += n
		if r != nil {
			in.route(r)
		}
	}
	if off > 0 {
		in.pos = copy(in.buf[:], in.buf[off:in.pos])
	}
}

func (in *Ingress) route(r protocol.Response) {
	if protocol.IsNotification(r) {
		if !in.notifications.Enqueue(r) {
			in.logger.Warn("notification queue full, dropping", zap.String("frame", describe(r)))
		}
		return
	}
	if !in.responses.Enqueue(r) {
		in.logger.Warn("response queue full, dropping", zap.String("frame", describe(r)))
	}
}

// Run polls until ctx is done or the link reaches EOF. A failing link is
// logged once per distinct error.
func (in *Ingress) Run(ctx context.Context) error {
	var last string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		read, err := in.Poll()
		if err == io.EOF {
			return nil
		}
		if err != nil && err.Error() != last {
			last = err.Error()
			in.logger.Error("read failed", zap.Error(err))
		}
		if !read {
			time.Sleep(idleSleep)
		}
	}
}

func describe(r protocol.Response) string {
	if d, ok := r.(protocol.DataReceived); ok {
		return fmt.Sprintf("DataReceived(%d bytes)", d.Len)
	}
	return fmt.Sprintf("%T%+v", r, r)
}
