// Package repl is an interactive console over a NetworkStack.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"

	"ESP-AT/pkg/adapter"
	"ESP-AT/pkg/protocol"
)

const usage = `Commands:
  li                        list sockets
  info                      firmware version
  ip                        station and soft-AP addresses
  join <ssid> <password>    join an access point
  open                      reserve a socket
  connect <id> <ip:port>    open a TCP connection
  send <id> <message>       write a line to a socket
  recv <id> [n]             read up to n bytes (default 512)
  close <id>                release a socket
  exit
`

type session struct {
	stack   *adapter.NetworkStack
	out     io.Writer
	handles map[int]adapter.TCPSocket
}

// StartRepl reads commands from in until EOF or "exit".
func StartRepl(stack *adapter.NetworkStack, in io.Reader, out io.Writer) {
	s := &session{stack: stack, out: out, handles: make(map[int]adapter.TCPSocket)}
	reader := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !reader.Scan() {
			break
		}
		fields := strings.Fields(reader.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" {
			return
		}
		if err := s.run(fields); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func (s *session) run(fields []string) error {
	switch fields[0] {
	case "li":
		w := tabwriter.NewWriter(s.out, 1, 1, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tState\tAvailable")
		for id, sock := range s.stack.Sockets() {
			fmt.Fprintf(w, "%d\t%v\t%d\n", id, sock.State, sock.Available)
		}
		return w.Flush()
	case "info":
		info, err := s.stack.FirmwareInfo()
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "AT %v, SDK %s\n", info, info.SDK)
	case "ip":
		addrs, err := s.stack.IPAddresses()
		if err != nil {
			return err
		}
		printAddresses(s.out, addrs)
	case "join":
		if len(fields) != 3 {
			return errors.New("usage: join <ssid> <password>")
		}
		if err := s.stack.Join(fields[1], fields[2]); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "joined %s\n", fields[1])
	case "open":
		sock, err := s.stack.Open()
		if err != nil {
			return err
		}
		s.handles[sock.LinkID()] = sock
		fmt.Fprintf(s.out, "socket %d\n", sock.LinkID())
	case "connect":
		if len(fields) != 3 {
			return errors.New("usage: connect <id> <ip:port>")
		}
		sock, err := s.handle(fields[1])
		if err != nil {
			return err
		}
		remote, err := netip.ParseAddrPort(fields[2])
		if err != nil {
			return err
		}
		if err := s.stack.Connect(sock, remote); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "connected %d to %v\n", sock.LinkID(), remote)
	case "send":
		parts := strings.SplitN(strings.Join(fields[1:], " "), " ", 2)
		if len(parts) != 2 {
			return errors.New("usage: send <id> <message>")
		}
		sock, err := s.handle(parts[0])
		if err != nil {
			return err
		}
		n, err := s.stack.Write(sock, []byte(parts[1]+"\r\n"))
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "sent %d bytes\n", n)
	case "recv":
		if len(fields) < 2 || len(fields) > 3 {
			return errors.New("usage: recv <id> [n]")
		}
		sock, err := s.handle(fields[1])
		if err != nil {
			return err
		}
		n := protocol.MaxDataLength
		if len(fields) == 3 {
			if n, err = strconv.Atoi(fields[2]); err != nil || n <= 0 {
				return errors.Errorf("bad length %q", fields[2])
			}
		}
		buf := make([]byte, n)
		got, err := s.stack.Read(sock, buf)
		if errors.Is(err, adapter.ErrWouldBlock) {
			fmt.Fprintln(s.out, "no data")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%q\n", buf[:got])
	case "close":
		if len(fields) != 2 {
			return errors.New("usage: close <id>")
		}
		sock, err := s.handle(fields[1])
		if err != nil {
			return err
		}
		delete(s.handles, sock.LinkID())
		return s.stack.Close(sock)
	case "help":
		fmt.Fprint(s.out, usage)
	default:
		return errors.Errorf("unknown command %q, try help", fields[0])
	}
	return nil
}

func (s *session) handle(arg string) (adapter.TCPSocket, error) {
	id, err := strconv.Atoi(arg)
	if err != nil {
		return adapter.TCPSocket{}, errors.Errorf("bad socket id %q", arg)
	}
	sock, ok := s.handles[id]
	if !ok {
		return adapter.TCPSocket{}, errors.Errorf("socket %d is not open", id)
	}
	return sock, nil
}

func printAddresses(out io.Writer, addrs protocol.IPAddresses) {
	w := tabwriter.NewWriter(out, 1, 1, 3, ' ', 0)
	fmt.Fprintln(w, "Iface\tIP\tMAC")
	fmt.Fprintf(w, "station\t%v\t%v\n", addrs.StationIP, addrs.StationMAC)
	if addrs.SoftAPIP.IsValid() {
		fmt.Fprintf(w, "softap\t%v\t%v\n", addrs.SoftAPIP, addrs.SoftAPMAC)
	}
	w.Flush()
}
