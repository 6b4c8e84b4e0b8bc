// Package protocol is the ESP-AT wire codec: it encodes Commands into AT
// command lines and decodes the co-processor's output into Responses.
package protocol

import (
	"net/netip"
	"strconv"
	"strings"
)

// Command is a request to the co-processor. The set of implementations is
// closed; Encode returns the command line without its CR-LF terminator.
type Command interface {
	Encode() []byte
	isCommand()
}

// ConnectionType selects the transport of a StartConnection.
type ConnectionType int

const (
	TCP ConnectionType = iota
)

func (t ConnectionType) String() string {
	switch t {
	case TCP:
		return "TCP"
	}
	return "ConnectionType(" + strconv.Itoa(int(t)) + ")"
}

type QueryFirmwareInfo struct{}

type QueryIPAddress struct{}

// JoinAP joins an access point; the co-processor obtains its address by DHCP.
type JoinAP struct {
	SSID     string
	Password string
}

// StartConnection opens a connection on a multiplexed link.
type StartConnection struct {
	LinkID int
	Type   ConnectionType
	Remote netip.AddrPort
}

// Send announces Len bytes of payload for a link.
type Send struct {
	LinkID int
	Len    int
}

// Receive pulls up to Len buffered bytes from a link (passive receive mode).
type Receive struct {
	LinkID int
	Len    int
}

func (QueryFirmwareInfo) isCommand() {}
func (QueryIPAddress) isCommand()    {}
func (JoinAP) isCommand()            {}
func (StartConnection) isCommand()   {}
func (Send) isCommand()              {}
func (Receive) isCommand()           {}

func (QueryFirmwareInfo) Encode() []byte { return []byte("AT+GMR") }

func (QueryIPAddress) Encode() []byte { return []byte("AT+CIFSR") }

func (c JoinAP) Encode() []byte {
	var b strings.Builder
	b.WriteString(`AT+CWJAP_CUR="`)
	b.WriteString(escape(c.SSID))
	b.WriteString(`","`)
	b.WriteString(escape(c.Password))
	b.WriteString(`"`)
	return []byte(b.String())
}

func (c StartConnection) Encode() []byte {
	b := []byte("AT+CIPSTART=")
	b = strconv.AppendInt(b, int64(c.LinkID), 10)
	b = append(b, `,"`...)
	b = append(b, c.Type.String()...)
	b = append(b, `","`...)
	b = append(b, c.Remote.Addr().Unmap().String()...)
	b = append(b, `",`...)
	b = strconv.AppendUint(b, uint64(c.Remote.Port()), 10)
	return b
}

func (c Send) Encode() []byte {
	b := []byte("AT+CIPSEND=")
	b = strconv.AppendInt(b, int64(c.LinkID), 10)
	b = append(b, ',')
	return strconv.AppendInt(b, int64(c.Len), 10)
}

func (c Receive) Encode() []byte {
	b := []byte("AT+CIPRECVDATA=")
	b = strconv.AppendInt(b, int64(c.LinkID), 10)
	b = append(b, ',')
	return strconv.AppendInt(b, int64(c.Len), 10)
}

// escape backslash-escapes the characters AT string parameters reserve.
func escape(s string) string {
	if !strings.ContainsAny(s, `"\,`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"', '\\', ',':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
