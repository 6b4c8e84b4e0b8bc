package protocol

import (
	"fmt"
	"net"
	"net/netip"
)

// MaxDataLength is the largest payload a DataReceived can carry. Receive
// requests should never ask for more.
const MaxDataLength = 512

// LenUnreported marks a SendOk from firmware that did not print the
// "Recv N bytes" line.
const LenUnreported = -1

// Response is a decoded reply or unsolicited notification. The set of
// implementations is closed.
type Response interface {
	isResponse()
}

type Ok struct{}

// Error is the firmware's ERROR or FAIL result.
type Error struct{}

type FirmwareInfo struct {
	Major int
	Minor int
	Patch int
	Build int
	SDK   string
}

func (f FirmwareInfo) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", f.Major, f.Minor, f.Patch, f.Build)
}

type IPAddresses struct {
	StationIP  netip.Addr
	StationMAC net.HardwareAddr
	SoftAPIP   netip.Addr
	SoftAPMAC  net.HardwareAddr
}

// WifiConnectionFailure is the reason code reported by a failed AP join.
type WifiConnectionFailure int

const (
	WifiTimeout            WifiConnectionFailure = 1
	WifiWrongPassword      WifiConnectionFailure = 2
	WifiCannotFindTargetAP WifiConnectionFailure = 3
	WifiConnectionFailed   WifiConnectionFailure = 4
)

func (w WifiConnectionFailure) Error() string {
	switch w {
	case WifiTimeout:
		return "wifi: connection timeout"
	case WifiWrongPassword:
		return "wifi: wrong password"
	case WifiCannotFindTargetAP:
		return "wifi: cannot find target AP"
	case WifiConnectionFailed:
		return "wifi: connection failed"
	}
	return fmt.Sprintf("wifi: failure %d", int(w))
}

// Connect reports a link coming up. Unsolicited is set when it was not
// followed by the OK of a StartConnection.
type Connect struct {
	LinkID      int
	Unsolicited bool
}

type Closed struct {
	LinkID int
}

// DataAvailable reports Len more bytes buffered on the co-processor for a link.
type DataAvailable struct {
	LinkID int
	Len    int
}

// ReadyForData is the "> " prompt that follows a Send.
type ReadyForData struct{}

type SendOk struct {
	Len int
}

type SendFail struct{}

// DataReceived carries the payload of a Receive.
type DataReceived struct {
	Data [MaxDataLength]byte
	Len  int
}

// Bytes returns the received payload.
func (d *DataReceived) Bytes() []byte { return d.Data[:d.Len] }

func (Ok) isResponse()                    {}
func (Error) isResponse()                 {}
func (FirmwareInfo) isResponse()          {}
func (IPAddresses) isResponse()           {}
func (WifiConnectionFailure) isResponse() {}
func (Connect) isResponse()               {}
func (Closed) isResponse()                {}
func (DataAvailable) isResponse()         {}
func (ReadyForData) isResponse()          {}
func (SendOk) isResponse()                {}
func (SendFail) isResponse()              {}
func (DataReceived) isResponse()          {}

// IsNotification reports whether r is an unsolicited event rather than the
// reply to a command.
func IsNotification(r Response) bool {
	switch v := r.(type) {
	case Closed, DataAvailable:
		return true
	case Connect:
		return v.Unsolicited
	}
	return false
}
