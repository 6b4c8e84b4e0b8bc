package main

import (
	"bytes"
	"context"
	"net/netip"
	"strings"
	"testing"
	"time"

	"ESP-AT/pkg/adapter"
	"ESP-AT/pkg/emulator"
	"ESP-AT/pkg/transport"
)

func TestHTTPGetAgainstEmulator(t *testing.T) {
	host, dev := transport.NewPipe(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer host.Close()
	go emulator.New(dev, emulator.WithResponder(httpResponder)).Run(ctx)

	a, in, err := adapter.Initialize(host, host, transport.NopPin{}, transport.NopPin{},
		adapter.WithInitTimeout(2*time.Second), adapter.WithResponseTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	go in.Run(ctx)

	var out bytes.Buffer
	remote := netip.MustParseAddrPort("10.0.0.8:80")
	if err := httpGet(a.NetworkStack(), remote, "/status", 2*time.Second, &out); err != nil {
		t.Fatalf("httpGet: %v", err)
	}
	if !strings.HasPrefix(out.String(), "HTTP/1.0 200 OK\r\n") {
		t.Fatalf("response %q", out.String())
	}
	if !strings.HasSuffix(out.String(), "hello from 10.0.0.8:80/status\n") {
		t.Fatalf("body %q", out.String())
	}
}

func TestHTTPResponderIgnoresOtherTraffic(t *testing.T) {
	if reply, hangup := httpResponder(netip.AddrPort{}, []byte("PING\r\n")); reply != nil || hangup {
		t.Fatalf("got %q, %v", reply, hangup)
	}
}
