package adapter

import "github.com/pkg/errors"

// Adapter errors. Wrapped values keep these as their cause, so check them
// with errors.Is.
var (
	ErrTimeout            = errors.New("adapter: timed out waiting for response")
	ErrUnableToInitialize = errors.New("adapter: unable to initialize")
	ErrWrite              = errors.New("adapter: write to co-processor failed")
	ErrUnexpectedResponse = errors.New("adapter: unexpected response")
	ErrBadAddress         = errors.New("adapter: bad remote address")
)

// Socket errors.
var (
	ErrNoAvailableSockets = errors.New("socket: no available sockets")
	ErrSocketNotOpen      = errors.New("socket: not open")
	ErrUnableToOpen       = errors.New("socket: unable to open")
	ErrSocketWrite        = errors.New("socket: write failed")
	ErrSocketRead         = errors.New("socket: read failed")
	ErrInvalidLinkID      = errors.New("socket: invalid link id")

	// ErrWouldBlock is returned by Read when the socket is healthy but nothing
	// has arrived yet. It is not a failure.
	ErrWouldBlock = errors.New("socket: would block")
)
