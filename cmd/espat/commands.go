package main

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"ESP-AT/pkg/adapter"
	"ESP-AT/pkg/repl"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive socket console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		repl.StartRepl(s.stack, os.Stdin, os.Stdout)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print firmware version and addresses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		info, err := s.stack.FirmwareInfo()
		if err != nil {
			return err
		}
		addrs, err := s.stack.IPAddresses()
		if err != nil {
			return err
		}
		fmt.Printf("firmware : AT %v (SDK %s)\n", info, info.SDK)
		fmt.Printf("station  : %v  %v\n", addrs.StationIP, addrs.StationMAC)
		if addrs.SoftAPIP.IsValid() {
			fmt.Printf("soft-AP  : %v  %v\n", addrs.SoftAPIP, addrs.SoftAPMAC)
		}
		return nil
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <ssid> <password>",
	Short: "Join an access point",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.stack.Join(args[0], args[1]); err != nil {
			return err
		}
		addrs, err := s.stack.IPAddresses()
		if err != nil {
			return err
		}
		fmt.Printf("joined %s as %v\n", args[0], addrs.StationIP)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <ip:port> [path]",
	Short: "Fetch a URL path with HTTP/1.0 and print the response",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remote, err := netip.ParseAddrPort(args[0])
		if err != nil {
			return errors.Wrap(err, "remote must be ip:port")
		}
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		s, err := startSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.joinConfigured(); err != nil {
			return err
		}
		return httpGet(s.stack, remote, path, timeout, cmd.OutOrStdout())
	},
}

func init() {
	getCmd.Flags().Duration("timeout", 10*time.Second, "give up after this long")
}

// httpGet sends a GET on a fresh socket and copies the reply to out until
// the peer closes.
func httpGet(stack *adapter.NetworkStack, remote netip.AddrPort, path string, timeout time.Duration, out io.Writer) error {
	sock, err := stack.Open()
	if err != nil {
		return err
	}
	defer stack.Close(sock)
	if err := stack.Connect(sock, remote); err != nil {
		return err
	}

	request := []byte(fmt.Sprintf("GET %s HTTP/1.0\r\nHost: %v\r\n\r\n", path, remote.Addr()))
	for len(request) > 0 {
		n, err := stack.Write(sock, request)
		if err != nil {
			return err
		}
		request = request[n:]
	}

	buf := make([]byte, 512)
	deadline := time.Now().Add(timeout)
	for {
		n, err := stack.Read(sock, buf)
		switch {
		case err == nil:
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		case errors.Is(err, adapter.ErrWouldBlock):
			if time.Now().After(deadline) {
				return errors.Errorf("no reply from %v within %v", remote, timeout)
			}
			time.Sleep(10 * time.Millisecond)
		case errors.Is(err, adapter.ErrSocketNotOpen):
			return nil
		default:
			return err
		}
	}
}
