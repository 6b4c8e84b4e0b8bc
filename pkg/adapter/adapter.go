// Package adapter drives an ESP-AT Wi-Fi co-processor over a serial link and
// presents its five multiplexed links as non-blocking TCP sockets.
//
// An Adapter is not safe for concurrent use. Wrap it in a NetworkStack to
// share it between goroutines.
package adapter

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ESP-AT/pkg/protocol"
	"ESP-AT/pkg/queue"
	"ESP-AT/pkg/socket"
	"ESP-AT/pkg/transport"
)

// MaxSendLength is the most payload one AT+CIPSEND accepts. Longer writes
// are cut to this size and report the shorter count.
const MaxSendLength = 2048

var crlf = []byte("\r\n")

// Adapter owns the link to the co-processor and its five-slot socket table.
type Adapter struct {
	tx            transport.ByteSink
	responses     queue.Consumer[protocol.Response]
	notifications queue.Consumer[protocol.Response]
	sockets       socket.Table

	responseTimeout time.Duration
	logger          *zap.Logger
}

func newAdapter(tx transport.ByteSink, responses, notifications queue.Consumer[protocol.Response], o options) *Adapter {
	return &Adapter{
		tx:              tx,
		responses:       responses,
		notifications:   notifications,
		responseTimeout: o.responseTimeout,
		logger:          o.logger,
	}
}

// send writes cmd and waits for its reply.
func (a *Adapter) send(cmd protocol.Command) (protocol.Response, error) {
	a.discardStale()
	a.logger.Debug("send", zap.String("command", fmt.Sprintf("%T", cmd)))
	if err := transport.WriteAll(a.tx, cmd.Encode()); err != nil {
		return nil, errors.Wrapf(ErrWrite, "%T: %v", cmd, err)
	}
	if err := transport.WriteAll(a.tx, crlf); err != nil {
		return nil, errors.Wrapf(ErrWrite, "%T: %v", cmd, err)
	}
	return a.waitForResponse()
}

// discardStale drops replies left over from a command that timed out, so
// the next reply read belongs to the command about to be sent.
func (a *Adapter) discardStale() {
	for a.responses.Len() > 0 {
		r, ok := a.responses.Dequeue()
		if !ok {
			return
		}
		a.logger.Warn("discarding stale reply", zap.String("reply", fmt.Sprintf("%T", r)))
	}
}

// waitForResponse blocks until the ingress delivers the next reply. Only one
// command is ever in flight, so that reply belongs to it.
func (a *Adapter) waitForResponse() (protocol.Response, error) {
	r, err := a.responses.Wait(a.responseTimeout)
	if err != nil {
		return nil, errors.Wrapf(ErrTimeout, "after %v", a.responseTimeout)
	}
	return r, nil
}

// processNotifications folds every queued notification into the socket
// table without blocking.
func (a *Adapter) processNotifications() {
	for {
		r, ok := a.notifications.Dequeue()
		if !ok {
			return
		}
		switch n := r.(type) {
		case protocol.DataAvailable:
			if !socket.Valid(n.LinkID) {
				a.logger.Warn("data for unknown link", zap.Int("link", n.LinkID))
				continue
			}
			s := &a.sockets[n.LinkID]
			if s.State == socket.Closed {
				a.logger.Debug("data for closed link ignored", zap.Int("link", n.LinkID), zap.Int("len", n.Len))
				continue
			}
			s.Available += n.Len
		case protocol.Closed:
			if !socket.Valid(n.LinkID) {
				a.logger.Warn("close for unknown link", zap.Int("link", n.LinkID))
				continue
			}
			a.transition(n.LinkID, socket.RemoteClose)
		default:
			// Unsolicited connects carry nothing the table tracks.
		}
	}
}

func (a *Adapter) transition(id int, e socket.Event) {
	s := &a.sockets[id]
	from := s.State
	s.Apply(e)
	if s.State != from {
		a.logger.Debug("socket transition", zap.Int("link", id),
			zap.Stringer("from", from), zap.Stringer("to", s.State))
	}
}

func (a *Adapter) setState(id int, st socket.State) {
	from := a.sockets[id].State
	a.sockets[id].State = st
	a.logger.Debug("socket transition", zap.Int("link", id),
		zap.Stringer("from", from), zap.Stringer("to", st))
}

// FirmwareInfo queries the firmware version.
func (a *Adapter) FirmwareInfo() (protocol.FirmwareInfo, error) {
	r, err := a.send(protocol.QueryFirmwareInfo{})
	if err != nil {
		return protocol.FirmwareInfo{}, err
	}
	info, ok := r.(protocol.FirmwareInfo)
	if !ok {
		return protocol.FirmwareInfo{}, errors.Wrapf(ErrUnexpectedResponse, "firmware info: got %T", r)
	}
	return info, nil
}

// IPAddresses queries the station and soft-AP addresses.
func (a *Adapter) IPAddresses() (protocol.IPAddresses, error) {
	r, err := a.send(protocol.QueryIPAddress{})
	if err != nil {
		return protocol.IPAddresses{}, err
	}
	addrs, ok := r.(protocol.IPAddresses)
	if !ok {
		return protocol.IPAddresses{}, errors.Wrapf(ErrUnexpectedResponse, "ip addresses: got %T", r)
	}
	return addrs, nil
}

// Join connects the station to an access point. A rejected join returns the
// firmware's protocol.WifiConnectionFailure reason as the error.
func (a *Adapter) Join(ssid, password string) error {
	r, err := a.send(protocol.JoinAP{SSID: ssid, Password: password})
	if err != nil {
		return err
	}
	switch v := r.(type) {
	case protocol.Ok:
		a.logger.Info("joined access point", zap.String("ssid", ssid))
		return nil
	case protocol.WifiConnectionFailure:
		return v
	default:
		return protocol.WifiConnectionFailed
	}
}

// Open reserves the lowest free link. Nothing is sent to the co-processor.
func (a *Adapter) Open() (int, error) {
	id, ok := a.sockets.FirstClosed()
	if !ok {
		return 0, ErrNoAvailableSockets
	}
	a.setState(id, socket.Open)
	return id, nil
}

// Close releases a link locally. The peer is not told.
func (a *Adapter) Close(id int) error {
	if !socket.Valid(id) {
		return errors.Wrapf(ErrInvalidLinkID, "%d", id)
	}
	a.transition(id, socket.LocalClose)
	return nil
}

// ConnectTCP opens a TCP connection to remote on link id. On failure the
// socket is left as it was.
func (a *Adapter) ConnectTCP(id int, remote netip.AddrPort) error {
	if !socket.Valid(id) {
		return errors.Wrapf(ErrInvalidLinkID, "%d", id)
	}
	r, err := a.send(protocol.StartConnection{LinkID: id, Type: protocol.TCP, Remote: remote})
	if err != nil {
		return errors.Wrapf(ErrUnableToOpen, "link %d: %v", id, err)
	}
	c, ok := r.(protocol.Connect)
	if !ok || c.LinkID != id {
		return errors.Wrapf(ErrUnableToOpen, "link %d to %v: got %T", id, remote, r)
	}
	a.setState(id, socket.Connected)
	return nil
}

// Write sends buf on link id and returns how many bytes the co-processor
// accepted. At most MaxSendLength bytes go out per call.
func (a *Adapter) Write(id int, buf []byte) (int, error) {
	if !socket.Valid(id) {
		return 0, errors.Wrapf(ErrInvalidLinkID, "%d", id)
	}
	a.processNotifications()
	if len(buf) == 0 {
		return 0, nil
	}
	if len(buf) > MaxSendLength {
		buf = buf[:MaxSendLength]
	}

	r, err := a.send(protocol.Send{LinkID: id, Len: len(buf)})
	if err != nil {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: %v", id, err)
	}
	if _, ok := r.(protocol.Ok); !ok {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: send got %T", id, r)
	}
	if r, err = a.waitForResponse(); err != nil {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: %v", id, err)
	}
	if _, ok := r.(protocol.ReadyForData); !ok {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: expected prompt, got %T", id, r)
	}

	if err := transport.WriteAll(a.tx, buf); err != nil {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d payload: %v", id, err)
	}

	if r, err = a.waitForResponse(); err != nil {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: %v", id, err)
	}
	sent, ok := r.(protocol.SendOk)
	if !ok {
		return 0, errors.Wrapf(ErrSocketWrite, "link %d: expected SEND OK, got %T", id, r)
	}
	if sent.Len == protocol.LenUnreported {
		return len(buf), nil
	}
	return sent.Len, nil
}

// Read copies bytes the co-processor holds for link id into buf. It returns
// ErrWouldBlock when the link is up but nothing is buffered, and
// ErrSocketNotOpen once the link is closed or half-closed and drained.
func (a *Adapter) Read(id int, buf []byte) (int, error) {
	if !socket.Valid(id) {
		return 0, errors.Wrapf(ErrInvalidLinkID, "%d", id)
	}
	a.processNotifications()

	s := &a.sockets[id]
	switch {
	case s.State == socket.Closed:
		return 0, ErrSocketNotOpen
	case s.State == socket.HalfClosed && s.Available == 0:
		return 0, ErrSocketNotOpen
	case s.Available == 0:
		return 0, ErrWouldBlock
	}
	if len(buf) == 0 {
		return 0, nil
	}

	want := len(buf)
	if want > protocol.MaxDataLength {
		want = protocol.MaxDataLength
	}
	r, err := a.send(protocol.Receive{LinkID: id, Len: want})
	if err != nil {
		return 0, errors.Wrapf(ErrSocketRead, "link %d: %v", id, err)
	}
	d, ok := r.(protocol.DataReceived)
	if !ok {
		return 0, errors.Wrapf(ErrSocketRead, "link %d: got %T", id, r)
	}
	n := copy(buf, d.Bytes())
	s.Available -= d.Len
	if s.Available < 0 {
		s.Available = 0
	}
	return n, nil
}

// Sockets returns a copy of the socket table.
func (a *Adapter) Sockets() socket.Table {
	a.processNotifications()
	return a.sockets
}
