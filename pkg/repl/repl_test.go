package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ESP-AT/pkg/adapter"
	"ESP-AT/pkg/emulator"
	"ESP-AT/pkg/transport"
)

func newStack(t *testing.T) *adapter.NetworkStack {
	t.Helper()
	host, dev := transport.NewPipe(0)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		host.Close()
	})
	go emulator.New(dev, emulator.WithNetwork("lab", "secret")).Run(ctx)

	a, in, err := adapter.Initialize(host, host, transport.NopPin{}, transport.NopPin{},
		adapter.WithInitTimeout(2*time.Second), adapter.WithResponseTimeout(2*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	go in.Run(ctx)
	return a.NetworkStack()
}

func TestSession(t *testing.T) {
	script := strings.Join([]string{
		"info",
		"join lab wrong",
		"join lab secret",
		"ip",
		"open",
		"connect 0 10.0.0.2:7",
		"send 0 hi there",
		"recv 0",
		"li",
		"close 0",
		"recv 0",
		"bogus",
		"exit",
		"li",
	}, "\n")
	var out bytes.Buffer
	StartRepl(newStack(t), strings.NewReader(script), &out)

	got := out.String()
	for _, want := range []string{
		"AT 1.7.4.0, SDK 3.0.4",
		"error: wifi: wrong password",
		"joined lab",
		"station   192.168.1.50",
		"socket 0",
		"connected 0 to 10.0.0.2:7",
		"sent 10 bytes",
		"no data",
		"0    connected   0",
		"error: socket 0 is not open",
		`error: unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "ID   State") != 1 {
		t.Errorf("commands after exit were run:\n%s", got)
	}
}
