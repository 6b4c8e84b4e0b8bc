package adapter

import (
	"net/netip"
	"sync"

	"github.com/google/netstack/tcpip"
	"github.com/pkg/errors"

	"ESP-AT/pkg/protocol"
	"ESP-AT/pkg/socket"
)

// TCPSocket is a handle to one of the adapter's links.
type TCPSocket struct {
	id int
}

// LinkID returns the co-processor link the handle refers to.
func (s TCPSocket) LinkID() int { return s.id }

// NetworkStack is an Adapter that may be shared between goroutines. Every
// call holds the stack's lock for its whole command exchange.
type NetworkStack struct {
	mu      sync.Mutex
	adapter *Adapter
}

// NetworkStack hands a over to a new NetworkStack. a must not be used
// directly afterwards.
func (a *Adapter) NetworkStack() *NetworkStack {
	return &NetworkStack{adapter: a}
}

func (n *NetworkStack) Open() (TCPSocket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, err := n.adapter.Open()
	return TCPSocket{id: id}, err
}

func (n *NetworkStack) Connect(s TCPSocket, remote netip.AddrPort) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.ConnectTCP(s.id, remote)
}

// ConnectFull connects to a netstack address. Only the Addr and Port fields
// are used.
func (n *NetworkStack) ConnectFull(s TCPSocket, remote tcpip.FullAddress) error {
	addr, ok := netip.AddrFromSlice([]byte(remote.Addr))
	if !ok {
		return errors.Wrapf(ErrBadAddress, "%d-byte address", len(remote.Addr))
	}
	return n.Connect(s, netip.AddrPortFrom(addr, remote.Port))
}

func (n *NetworkStack) IsConnected(s TCPSocket) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !socket.Valid(s.id) {
		return false
	}
	return n.adapter.Sockets()[s.id].State == socket.Connected
}

func (n *NetworkStack) Write(s TCPSocket, buf []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.Write(s.id, buf)
}

func (n *NetworkStack) Read(s TCPSocket, buf []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.Read(s.id, buf)
}

func (n *NetworkStack) Close(s TCPSocket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.Close(s.id)
}

func (n *NetworkStack) FirmwareInfo() (protocol.FirmwareInfo, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.FirmwareInfo()
}

func (n *NetworkStack) IPAddresses() (protocol.IPAddresses, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.IPAddresses()
}

func (n *NetworkStack) Join(ssid, password string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.Join(ssid, password)
}

func (n *NetworkStack) Sockets() socket.Table {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter.Sockets()
}

// TCPIPError translates an adapter error into netstack's error vocabulary.
// It returns nil for a nil error.
func TCPIPError(err error) *tcpip.Error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case ErrWouldBlock:
		return tcpip.ErrWouldBlock
	case ErrNoAvailableSockets:
		return tcpip.ErrNoPortAvailable
	case ErrSocketNotOpen:
		return tcpip.ErrNotConnected
	case ErrUnableToOpen:
		return tcpip.ErrConnectionRefused
	case ErrSocketWrite:
		return tcpip.ErrClosedForSend
	case ErrSocketRead:
		return tcpip.ErrClosedForReceive
	case ErrTimeout:
		return tcpip.ErrTimeout
	case ErrBadAddress:
		return tcpip.ErrBadAddress
	case ErrInvalidLinkID:
		return tcpip.ErrInvalidEndpointState
	}
	return tcpip.ErrAborted
}
