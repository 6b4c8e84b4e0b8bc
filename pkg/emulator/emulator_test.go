package emulator

import (
	"context"
	"net/netip"
	"reflect"
	"strings"
	"testing"
	"time"

	"ESP-AT/pkg/transport"
)

type console struct {
	t    *testing.T
	host *transport.End
	dev  *Device
}

func start(t *testing.T, opts ...Option) *console {
	t.Helper()
	host, device := transport.NewPipe(0)
	dev := New(device, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go dev.Run(ctx)
	t.Cleanup(func() {
		cancel()
		host.Close()
	})
	c := &console{t: t, host: host, dev: dev}
	c.expect("ready\r\n")
	return c
}

// expect reads until the output ends with suffix and returns all of it.
func (c *console) expect(suffix string) string {
	c.t.Helper()
	var out strings.Builder
	deadline := time.Now().Add(2 * time.Second)
	for !strings.HasSuffix(out.String(), suffix) {
		if time.Now().After(deadline) {
			c.t.Fatalf("timed out waiting for %q, got %q", suffix, out.String())
		}
		b, err := c.host.ReadByte()
		if err != nil {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		out.WriteByte(b)
	}
	return out.String()
}

func (c *console) command(line, suffix string) string {
	c.t.Helper()
	if _, err := c.host.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatal(err)
	}
	return c.expect(suffix)
}

func (c *console) setup() {
	c.command("ATE0", "OK\r\n")
	c.command("AT+CIPMUX=1", "OK\r\n")
	c.command("AT+CIPRECVMODE=1", "OK\r\n")
}

func TestBootAndEcho(t *testing.T) {
	c := start(t)
	if out := c.command("ATE0", "OK\r\n"); !strings.HasPrefix(out, "ATE0\r\r\n") {
		t.Fatalf("echo missing: %q", out)
	}
	if out := c.command("AT", "OK\r\n"); strings.Contains(out, "AT\r\r\n") {
		t.Fatalf("echo still on: %q", out)
	}
}

func TestJoin(t *testing.T) {
	c := start(t, WithNetwork("lab", "p,w"))
	c.setup()
	if out := c.command(`AT+CWJAP_CUR="lab","nope"`, "FAIL\r\n"); !strings.Contains(out, "+CWJAP:2") {
		t.Fatalf("wrong password: %q", out)
	}
	if out := c.command(`AT+CWJAP_CUR="cafe","x"`, "FAIL\r\n"); !strings.Contains(out, "+CWJAP:3") {
		t.Fatalf("unknown network: %q", out)
	}
	c.command(`AT+CWJAP_CUR="lab","p\,w"`, "OK\r\n")
	if out := c.command("AT+CIFSR", "OK\r\n"); !strings.Contains(out, `STAIP,"192.168.1.50"`) {
		t.Fatalf("addresses: %q", out)
	}
}

func TestSendAndReceive(t *testing.T) {
	remote := netip.MustParseAddrPort("10.1.2.3:7")
	c := start(t, WithResponder(func(_ netip.AddrPort, p []byte) ([]byte, bool) {
		return []byte(strings.ToUpper(string(p))), true
	}))
	c.setup()
	c.command(`AT+CIPSTART=1,"TCP","10.1.2.3",7`, "1,CONNECT\r\n\r\nOK\r\n")
	if c.dev.Remote(1) != remote {
		t.Fatalf("remote = %v", c.dev.Remote(1))
	}
	c.command("AT+CIPSEND=1,4", "> ")
	c.host.Write([]byte("ping"))
	c.expect("Recv 4 bytes\r\n\r\nSEND OK\r\n")
	c.expect("+IPD,1,4\r\n")
	c.expect("1,CLOSED\r\n")
	if got := string(c.dev.Sent(1)); got != "ping" {
		t.Fatalf("Sent = %q", got)
	}
	if out := c.command("AT+CIPRECVDATA=1,2", "OK\r\n"); out != "+CIPRECVDATA,2:PI\r\nOK\r\n" {
		t.Fatalf("recv = %q", out)
	}
	c.command("AT+CIPRECVDATA=1,100", "NG\r\nOK\r\n")
	c.command("AT+CIPRECVDATA=1,100", "ERROR\r\n")
}

func TestRefuseAndOverride(t *testing.T) {
	c := start(t)
	c.setup()
	c.dev.Refuse(netip.MustParseAddrPort("10.0.0.9:80"))
	c.command(`AT+CIPSTART=0,"TCP","10.0.0.9",80`, "ERROR\r\n")
	c.command("AT+CIPSEND=0,1", "link is not valid\r\n\r\nERROR\r\n")

	c.dev.ReplyNext("busy p...\r\n")
	c.command("AT+GMR", "busy p...\r\n")
	c.command("AT+GMR", "Bin version(Wroom 02):1.7.4\r\nOK\r\n")
}

func TestSplitParams(t *testing.T) {
	got := splitParams(`"a\"b","c,d",17`)
	want := []string{`a"b`, "c,d", "17"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q", got)
	}
}
