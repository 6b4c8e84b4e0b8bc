// Package emulator is an in-process ESP-AT co-processor. It sits on the
// device end of a transport.Pipe and answers the subset of the AT command
// set the adapter uses, so the driver can be exercised without hardware.
package emulator

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ESP-AT/pkg/socket"
	"ESP-AT/pkg/transport"
)

// DefaultBootNoise is what a freshly reset ESP8266 prints at 115200 baud
// before its banner.
const DefaultBootNoise = "\r\n ets Jan  8 2013,rst cause:2, boot mode:(3,6)\r\n\r\n" +
	"load 0x40100000, len 2408, room 16 \r\ntail 8\r\nchksum 0xe5\r\n" +
	"\x00\xfe\x13\x8c\x06\r\nAi-Thinker Technology Co. Ltd.\r\n\r\n"

const firmwareBlock = "AT version:1.7.4.0(May 11 2020 19:13:04)\r\n" +
	"SDK version:3.0.4(9532ceb)\r\n" +
	"compile time:May 27 2020 10:12:17\r\n" +
	"Bin version(Wroom 02):1.7.4\r\n" +
	"OK\r\n"

// Responder produces the peer's answer to a payload sent on a link. A nil
// reply sends nothing back; hangup closes the link after the reply.
type Responder func(remote netip.AddrPort, payload []byte) (reply []byte, hangup bool)

// Option configures New.
type Option func(*Device)

// WithNetwork adds an access point the device can join.
func WithNetwork(ssid, password string) Option {
	return func(d *Device) { d.networks[ssid] = password }
}

// WithBootNoise replaces the bytes printed before the ready banner.
func WithBootNoise(noise string) Option {
	return func(d *Device) { d.bootNoise = noise }
}

// WithStationIP sets the address the device reports after a join.
func WithStationIP(addr netip.Addr) Option {
	return func(d *Device) { d.stationIP = addr }
}

// WithResponder installs the peer behind every link.
func WithResponder(r Responder) Option {
	return func(d *Device) { d.responder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Device) { d.logger = l }
}

type link struct {
	remote    netip.AddrPort
	connected bool
	sent      []byte
	pending   []byte
}

// Device is the emulated co-processor. Connections need multiplexing
// (AT+CIPMUX=1) and, when networks are configured, a joined access point.
// AT+CIPRECVDATA only works in passive receive mode.
type Device struct {
	port *transport.End

	wmu sync.Mutex // whole frames only

	mu        sync.Mutex
	echo      bool
	mux       bool
	passive   bool
	joined    string
	links     [socket.MaxSockets]link
	refused   map[netip.AddrPort]bool
	overrides []string

	networks  map[string]string
	bootNoise string
	stationIP netip.Addr
	responder Responder
	logger    *zap.Logger
}

func New(port *transport.End, opts ...Option) *Device {
	d := &Device{
		port:      port,
		echo:      true,
		refused:   make(map[netip.AddrPort]bool),
		networks:  make(map[string]string),
		bootNoise: DefaultBootNoise,
		stationIP: netip.MustParseAddr("192.168.1.50"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run boots the device and serves commands until ctx is done or the pipe
// is closed.
func (d *Device) Run(ctx context.Context) error {
	if err := d.emit(d.bootNoise + "ready\r\n"); err != nil {
		return err
	}
	var line []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		b, err := d.port.ReadByte()
		if errors.Is(err, transport.ErrWouldBlock) {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = append(line, b)
		if !strings.HasSuffix(string(line), "\r\n") {
			continue
		}
		cmd := strings.TrimSuffix(string(line), "\r\n")
		line = line[:0]
		if err := d.handle(ctx, cmd); err != nil {
			return err
		}
	}
}

// Deliver makes data arrive from the peer on link id and announces it with
// +IPD.
func (d *Device) Deliver(id int, data []byte) error {
	if !socket.Valid(id) {
		return errors.Errorf("emulator: bad link %d", id)
	}
	d.mu.Lock()
	d.links[id].pending = append(d.links[id].pending, data...)
	d.mu.Unlock()
	return d.emit(fmt.Sprintf("+IPD,%d,%d\r\n", id, len(data)))
}

// Hangup closes link id from the peer's side.
func (d *Device) Hangup(id int) error {
	if !socket.Valid(id) {
		return errors.Errorf("emulator: bad link %d", id)
	}
	d.mu.Lock()
	d.links[id].connected = false
	d.mu.Unlock()
	return d.emit(fmt.Sprintf("%d,CLOSED\r\n", id))
}

// Refuse makes connections to remote fail.
func (d *Device) Refuse(remote netip.AddrPort) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refused[remote] = true
}

// ReplyNext answers the next command with raw instead of its usual reply.
func (d *Device) ReplyNext(raw string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overrides = append(d.overrides, raw)
}

// Sent returns everything the host has written on link id.
func (d *Device) Sent(id int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.links[id].sent...)
}

// Remote returns the address link id was last connected to.
func (d *Device) Remote(id int) netip.AddrPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[id].remote
}

func (d *Device) emit(s string) error {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	_, err := d.port.Write([]byte(s))
	return err
}

func (d *Device) handle(ctx context.Context, cmd string) error {
	d.logger.Debug("command", zap.String("line", cmd))

	d.mu.Lock()
	echo := d.echo
	var override string
	overridden := len(d.overrides) > 0
	if overridden {
		override = d.overrides[0]
		d.overrides = d.overrides[1:]
	}
	d.mu.Unlock()

	if echo {
		if err := d.emit(cmd + "\r\r\n"); err != nil {
			return err
		}
	}
	if overridden {
		return d.emit(override)
	}

	name, args, _ := strings.Cut(cmd, "=")
	switch name {
	case "AT":
		return d.emit("\r\nOK\r\n")
	case "ATE0", "ATE1":
		d.mu.Lock()
		d.echo = name == "ATE1"
		d.mu.Unlock()
		return d.emit("\r\nOK\r\n")
	case "AT+CIPMUX":
		d.mu.Lock()
		d.mux = args == "1"
		d.mu.Unlock()
		return d.emit("\r\nOK\r\n")
	case "AT+CIPRECVMODE":
		d.mu.Lock()
		d.passive = args == "1"
		d.mu.Unlock()
		return d.emit("\r\nOK\r\n")
	case "AT+GMR":
		return d.emit(firmwareBlock)
	case "AT+CIFSR":
		return d.emit(d.addresses())
	case "AT+CWJAP_CUR", "AT+CWJAP":
		return d.emit(d.join(args))
	case "AT+CIPSTART":
		return d.emit(d.start(args))
	case "AT+CIPSEND":
		return d.send(ctx, args)
	case "AT+CIPRECVDATA":
		return d.emit(d.receive(args))
	case "AT+CIPCLOSE":
		id, err := strconv.Atoi(args)
		if err != nil || !socket.Valid(id) {
			return d.emit("\r\nERROR\r\n")
		}
		d.mu.Lock()
		d.links[id].connected = false
		d.mu.Unlock()
		return d.emit(fmt.Sprintf("%d,CLOSED\r\n\r\nOK\r\n", id))
	}
	return d.emit("\r\nERROR\r\n")
}

func (d *Device) addresses() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	sta := "0.0.0.0"
	if d.joined != "" {
		sta = d.stationIP.String()
	}
	return "+CIFSR:APIP,\"192.168.4.1\"\r\n" +
		"+CIFSR:APMAC,\"1a:fe:34:a0:b1:c2\"\r\n" +
		"+CIFSR:STAIP,\"" + sta + "\"\r\n" +
		"+CIFSR:STAMAC,\"18:fe:34:a0:b1:c2\"\r\n" +
		"\r\nOK\r\n"
}

func (d *Device) join(args string) string {
	params := splitParams(args)
	if len(params) < 2 {
		return "\r\nERROR\r\n"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	password, known := d.networks[params[0]]
	switch {
	case !known:
		return "+CWJAP:3\r\n\r\nFAIL\r\n"
	case password != params[1]:
		return "+CWJAP:2\r\n\r\nFAIL\r\n"
	}
	d.joined = params[0]
	return "WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n"
}

func (d *Device) start(args string) string {
	params := splitParams(args)
	if len(params) != 4 || params[1] != "TCP" {
		return "\r\nERROR\r\n"
	}
	id, err := strconv.Atoi(params[0])
	if err != nil || !socket.Valid(id) {
		return "\r\nERROR\r\n"
	}
	addr, err := netip.ParseAddr(params[2])
	if err != nil {
		return "DNS Fail\r\n\r\nERROR\r\n"
	}
	port, err := strconv.ParseUint(params[3], 10, 16)
	if err != nil {
		return "\r\nERROR\r\n"
	}
	remote := netip.AddrPortFrom(addr, uint16(port))

	d.mu.Lock()
	defer d.mu.Unlock()
	l := &d.links[id]
	switch {
	case l.connected:
		return "ALREADY CONNECTED\r\n\r\nERROR\r\n"
	case !d.mux, d.refused[remote], d.joined == "" && len(d.networks) > 0:
		return "\r\nERROR\r\n"
	}
	*l = link{remote: remote, connected: true}
	return fmt.Sprintf("%d,CONNECT\r\n\r\nOK\r\n", id)
}

func (d *Device) send(ctx context.Context, args string) error {
	idText, lenText, _ := strings.Cut(args, ",")
	id, err1 := strconv.Atoi(idText)
	n, err2 := strconv.Atoi(lenText)
	if err1 != nil || err2 != nil || !socket.Valid(id) || n <= 0 || n > 2048 {
		return d.emit("\r\nERROR\r\n")
	}
	d.mu.Lock()
	connected := d.links[id].connected
	d.mu.Unlock()
	if !connected {
		return d.emit("link is not valid\r\n\r\nERROR\r\n")
	}
	if err := d.emit("\r\nOK\r\n> "); err != nil {
		return err
	}

	payload := make([]byte, 0, n)
	for len(payload) < n {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := d.port.ReadByte()
		if errors.Is(err, transport.ErrWouldBlock) {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if err != nil {
			return err
		}
		payload = append(payload, b)
	}

	d.mu.Lock()
	l := &d.links[id]
	l.sent = append(l.sent, payload...)
	remote := l.remote
	d.mu.Unlock()

	if err := d.emit(fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", n)); err != nil {
		return err
	}
	if d.responder == nil {
		return nil
	}
	reply, hangup := d.responder(remote, payload)
	if len(reply) > 0 {
		if err := d.Deliver(id, reply); err != nil {
			return err
		}
	}
	if hangup {
		return d.Hangup(id)
	}
	return nil
}

func (d *Device) receive(args string) string {
	idText, lenText, _ := strings.Cut(args, ",")
	id, err1 := strconv.Atoi(idText)
	n, err2 := strconv.Atoi(lenText)
	if err1 != nil || err2 != nil || !socket.Valid(id) || n <= 0 {
		return "\r\nERROR\r\n"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &d.links[id]
	if !d.passive || len(l.pending) == 0 {
		return "\r\nERROR\r\n"
	}
	if n > len(l.pending) {
		n = len(l.pending)
	}
	data := l.pending[:n]
	l.pending = l.pending[n:]
	return fmt.Sprintf("+CIPRECVDATA,%d:%s\r\nOK\r\n", n, data)
}

// splitParams splits quoted, backslash-escaped AT parameters.
func splitParams(args string) []string {
	var (
		params  []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range args {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			params = append(params, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(params, cur.String())
}
