package protocol

import (
	"net/netip"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func dataReceived(s string) DataReceived {
	var d DataReceived
	d.Len = copy(d.Data[:], s)
	return d
}

func TestParseFrames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Response
	}{
		{"ok", "OK\r\n", Ok{}},
		{"error", "ERROR\r\n", Error{}},
		{"fail", "FAIL\r\n", Error{}},
		{"prompt", "> ", ReadyForData{}},
		{"send ok with count", "Recv 5 bytes\r\n\r\nSEND OK\r\n", SendOk{Len: 5}},
		{"bare send ok", "SEND OK\r\n", SendOk{Len: LenUnreported}},
		{"send fail", "SEND FAIL\r\n", SendFail{}},
		{"connect reply", "3,CONNECT\r\n\r\nOK\r\n", Connect{LinkID: 3}},
		{"closed", "1,CLOSED\r\n", Closed{LinkID: 1}},
		{"ipd", "+IPD,2,10\r\n", DataAvailable{LinkID: 2, Len: 10}},
		{"recv data", "+CIPRECVDATA,5:he\r\no\r\nOK\r\n", dataReceived("he\r\no")},
		{"join failure", "+CWJAP:2\r\n\r\nFAIL\r\n", WifiWrongPassword},
		{
			"firmware",
			"AT version:1.7.4.0(May 11 2020 19:13:04)\r\nSDK version:3.0.4(9532ceb)\r\ncompile time:May 27 2020 10:12:17\r\nBin version(Wroom 02):1.7.4\r\nOK\r\n",
			FirmwareInfo{Major: 1, Minor: 7, Patch: 4, Build: 0, SDK: "3.0.4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := Parse([]byte(tt.in))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if n != len(tt.in) {
				t.Errorf("consumed %d of %d bytes", n, len(tt.in))
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}

			// Every proper prefix of a frame must ask for more input.
			for i := 1; i < len(tt.in); i++ {
				if _, _, err := Parse([]byte(tt.in[:i])); !errors.Is(err, ErrIncomplete) {
					t.Fatalf("prefix %q: err = %v, want ErrIncomplete", tt.in[:i], err)
				}
			}
		})
	}
}

func TestParseAddresses(t *testing.T) {
	in := "+CIFSR:APIP,\"192.168.4.1\"\r\n+CIFSR:APMAC,\"1a:fe:34:a0:b1:c2\"\r\n+CIFSR:STAIP,\"10.0.0.7\"\r\n+CIFSR:STAMAC,\"18:fe:34:a0:b1:c2\"\r\n\r\nOK\r\n"
	got, n, err := Parse([]byte(in))
	if err != nil || n != len(in) {
		t.Fatalf("Parse = %d, %v", n, err)
	}
	addrs, ok := got.(IPAddresses)
	if !ok {
		t.Fatalf("got %T", got)
	}
	if addrs.StationIP != netip.MustParseAddr("10.0.0.7") {
		t.Errorf("StationIP = %v", addrs.StationIP)
	}
	if addrs.SoftAPIP != netip.MustParseAddr("192.168.4.1") {
		t.Errorf("SoftAPIP = %v", addrs.SoftAPIP)
	}
	if addrs.StationMAC.String() != "18:fe:34:a0:b1:c2" {
		t.Errorf("StationMAC = %v", addrs.StationMAC)
	}
}

func TestParseUnsolicitedConnect(t *testing.T) {
	in := "0,CONNECT\r\n+IPD,0,4\r\n"
	got, n, err := Parse([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if got != (Connect{LinkID: 0, Unsolicited: true}) {
		t.Fatalf("got %#v", got)
	}
	if !IsNotification(got) {
		t.Fatal("unsolicited connect not routed as notification")
	}
	got, _, _ = Parse([]byte(in[n:]))
	if got != (DataAvailable{LinkID: 0, Len: 4}) {
		t.Fatalf("second frame = %#v", got)
	}
}

func TestParseSkipsNoise(t *testing.T) {
	for _, in := range []string{"\r\n", "WIFI CONNECTED\r\n", "WIFI GOT IP\r\n", "busy p...\r\n", "ATE0\r\n", "0,CONNECT FAIL\r\n"} {
		got, n, err := Parse([]byte(in))
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != nil {
			t.Errorf("%q decoded to %#v", in, got)
		}
		if n == 0 {
			t.Errorf("%q consumed nothing", in)
		}
	}
}

func TestParseRejectsOversizedPayload(t *testing.T) {
	in := "+CIPRECVDATA,513:" + strings.Repeat("x", 513) + "\r\nOK\r\n"
	got, n, err := Parse([]byte(in))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.(DataReceived); ok {
		t.Fatalf("decoded %d-byte payload into a %d-byte frame", 513, MaxDataLength)
	}
	if n == 0 || n >= len(in) {
		t.Fatalf("consumed %d of %d bytes", n, len(in))
	}
}

func TestIsNotification(t *testing.T) {
	tests := []struct {
		r    Response
		want bool
	}{
		{Closed{LinkID: 1}, true},
		{DataAvailable{LinkID: 1, Len: 3}, true},
		{Connect{LinkID: 1}, false},
		{Ok{}, false},
		{ReadyForData{}, false},
		{SendOk{Len: 1}, false},
	}
	for _, tt := range tests {
		if got := IsNotification(tt.r); got != tt.want {
			t.Errorf("IsNotification(%#v) = %v", tt.r, got)
		}
	}
}
