package protocol

import (
	"bytes"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrIncomplete means buf holds the start of a frame but not all of it.
var ErrIncomplete = errors.New("protocol: incomplete frame")

var crlf = []byte("\r\n")

const recvDataPrefix = "+CIPRECVDATA,"

type match int

const (
	matched match = iota
	partial
	mismatched
)

// Parse decodes the first frame in buf. It returns the decoded value and the
// number of bytes the frame occupied. A nil Response with a positive count is
// a frame that carries no value (blank lines, echo, WIFI status text, unknown
// output) and should simply be skipped. ErrIncomplete asks for more input.
func Parse(buf []byte) (Response, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}
	switch buf[0] {
	case '\r', '\n':
		return nil, 1, nil
	case '>':
		if len(buf) < 2 {
			return nil, 0, ErrIncomplete
		}
		if buf[1] == ' ' {
			return ReadyForData{}, 2, nil
		}
	}
	if bytes.HasPrefix(buf, []byte(recvDataPrefix)) {
		if r, n, err := parseDataReceived(buf); err != errMalformed {
			return r, n, err
		}
	}

	line, n, ok := nextLine(buf, 0)
	if !ok {
		return nil, 0, ErrIncomplete
	}
	text := string(line)

	switch {
	case text == "OK":
		return Ok{}, n, nil
	case text == "ERROR", text == "FAIL":
		return Error{}, n, nil
	case text == "SEND OK":
		return SendOk{Len: LenUnreported}, n, nil
	case text == "SEND FAIL":
		return SendFail{}, n, nil
	case strings.HasPrefix(text, "Recv ") && strings.HasSuffix(text, " bytes"):
		count, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(text, "Recv "), " bytes"))
		if err != nil {
			return nil, n, nil
		}
		return followedBy(buf, n, "SEND OK", SendOk{Len: count})
	case strings.HasPrefix(text, "+IPD,"):
		id, length, ok := twoInts(strings.TrimPrefix(text, "+IPD,"))
		if !ok {
			return nil, n, nil
		}
		return DataAvailable{LinkID: id, Len: length}, n, nil
	case strings.HasPrefix(text, "+CWJAP:"):
		code, err := strconv.Atoi(strings.TrimPrefix(text, "+CWJAP:"))
		if err != nil {
			return nil, n, nil
		}
		return followedBy(buf, n, "FAIL", WifiConnectionFailure(code))
	case strings.HasPrefix(text, "+CIFSR:"):
		return parseAddresses(buf)
	case strings.HasPrefix(text, "AT version:"):
		return parseFirmware(buf)
	}

	if id, event, ok := linkEvent(text); ok {
		switch event {
		case "CONNECT":
			end, m := after(buf, n, "OK")
			switch m {
			case matched:
				return Connect{LinkID: id}, end, nil
			case partial:
				return nil, 0, ErrIncomplete
			}
			return Connect{LinkID: id, Unsolicited: true}, n, nil
		case "CLOSED":
			return Closed{LinkID: id}, n, nil
		}
	}
	return nil, n, nil
}

var errMalformed = errors.New("protocol: malformed frame")

func parseDataReceived(buf []byte) (Response, int, error) {
	rest := buf[len(recvDataPrefix):]
	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		if len(rest) > len(strconv.Itoa(MaxDataLength)) {
			return nil, 0, errMalformed
		}
		return nil, 0, ErrIncomplete
	}
	length, err := strconv.Atoi(string(rest[:colon]))
	if err != nil || length < 0 || length > MaxDataLength {
		return nil, 0, errMalformed
	}
	start := len(recvDataPrefix) + colon + 1
	if len(buf) < start+length {
		return nil, 0, ErrIncomplete
	}

	var d DataReceived
	d.Len = copy(d.Data[:], buf[start:start+length])

	end, m := after(buf, start+length, "OK")
	switch m {
	case matched:
		return d, end, nil
	case partial:
		return nil, 0, ErrIncomplete
	}
	return d, start + length, nil
}

// parseAddresses decodes the +CIFSR block up to its OK.
func parseAddresses(buf []byte) (Response, int, error) {
	var addrs IPAddresses
	off := 0
	for {
		line, next, ok := nextLine(buf, off)
		if !ok {
			return nil, 0, ErrIncomplete
		}
		off = next
		text := string(line)
		switch {
		case text == "OK":
			return addrs, off, nil
		case text == "ERROR":
			return Error{}, off, nil
		case strings.HasPrefix(text, "+CIFSR:"):
			key, value, _ := strings.Cut(strings.TrimPrefix(text, "+CIFSR:"), ",")
			value = strings.Trim(value, `"`)
			switch key {
			case "STAIP":
				addrs.StationIP, _ = netip.ParseAddr(value)
			case "STAMAC":
				addrs.StationMAC, _ = net.ParseMAC(value)
			case "APIP":
				addrs.SoftAPIP, _ = netip.ParseAddr(value)
			case "APMAC":
				addrs.SoftAPMAC, _ = net.ParseMAC(value)
			}
		}
	}
}

// parseFirmware decodes the AT+GMR block up to its OK.
func parseFirmware(buf []byte) (Response, int, error) {
	var info FirmwareInfo
	off := 0
	for {
		line, next, ok := nextLine(buf, off)
		if !ok {
			return nil, 0, ErrIncomplete
		}
		off = next
		text := string(line)
		switch {
		case text == "OK":
			return info, off, nil
		case text == "ERROR":
			return Error{}, off, nil
		case strings.HasPrefix(text, "AT version:"):
			version, _, _ := strings.Cut(strings.TrimPrefix(text, "AT version:"), "(")
			parts := strings.Split(version, ".")
			fields := []*int{&info.Major, &info.Minor, &info.Patch, &info.Build}
			for i := 0; i < len(parts) && i < len(fields); i++ {
				*fields[i], _ = strconv.Atoi(parts[i])
			}
		case strings.HasPrefix(text, "SDK version:"):
			info.SDK, _, _ = strings.Cut(strings.TrimPrefix(text, "SDK version:"), "(")
		}
	}
}

// followedBy returns v if the line after the blank lines starting at off is
// want. When it is something else the first line is consumed on its own.
func followedBy(buf []byte, off int, want string, v Response) (Response, int, error) {
	end, m := after(buf, off, want)
	switch m {
	case matched:
		return v, end, nil
	case partial:
		return nil, 0, ErrIncomplete
	}
	return nil, off, nil
}

// after skips blank lines from off and checks whether the next line is want.
func after(buf []byte, off int, want string) (int, match) {
	for bytes.HasPrefix(buf[off:], crlf) {
		off += len(crlf)
	}
	rest := buf[off:]
	if len(rest) == 1 && rest[0] == '\r' {
		return 0, partial
	}
	full := want + "\r\n"
	if len(rest) < len(full) {
		if strings.HasPrefix(full, string(rest)) {
			return 0, partial
		}
		return 0, mismatched
	}
	if string(rest[:len(full)]) == full {
		return off + len(full), matched
	}
	return 0, mismatched
}

// nextLine returns the line starting at off, without its CR-LF, and the
// offset just past it.
func nextLine(buf []byte, off int) ([]byte, int, bool) {
	i := bytes.Index(buf[off:], crlf)
	if i < 0 {
		return nil, 0, false
	}
	return buf[off : off+i], off + i + len(crlf), true
}

// linkEvent splits "<id>,<EVENT>".
func linkEvent(text string) (int, string, bool) {
	idText, event, ok := strings.Cut(text, ",")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.Atoi(idText)
	if err != nil {
		return 0, "", false
	}
	return id, event, true
}

func twoInts(text string) (int, int, bool) {
	a, b, ok := strings.Cut(text, ",")
	if !ok {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(a)
	y, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}
