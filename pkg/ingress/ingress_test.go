package ingress

import (
	"context"
	"strings"
	"testing"
	"time"

	"ESP-AT/pkg/protocol"
	"ESP-AT/pkg/queue"
	"ESP-AT/pkg/transport"
)

type fixture struct {
	device        *transport.End
	ingress       *Ingress
	responses     queue.Consumer[protocol.Response]
	notifications queue.Consumer[protocol.Response]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	host, device := transport.NewPipe(transport.DefaultPipeSize)
	respP, respC := queue.Split[protocol.Response](queue.ResponseCapacity)
	notifP, notifC := queue.Split[protocol.Response](queue.NotificationCapacity)
	return &fixture{
		device:        device,
		ingress:       New(host, respP, notifP),
		responses:     respC,
		notifications: notifC,
	}
}

func (f *fixture) feed(t *testing.T, s string) {
	t.Helper()
	if _, err := f.device.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.ingress.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
}

func TestRouting(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "WIFI GOT IP\r\nOK\r\n+IPD,0,5\r\n1,CLOSED\r\n2,CONNECT\r\n\r\n")

	if r, ok := f.responses.Dequeue(); !ok || r != (protocol.Ok{}) {
		t.Fatalf("response = %#v, %v", r, ok)
	}
	want := []protocol.Response{
		protocol.DataAvailable{LinkID: 0, Len: 5},
		protocol.Closed{LinkID: 1},
	}
	for _, w := range want {
		if r, ok := f.notifications.Dequeue(); !ok || r != w {
			t.Fatalf("notification = %#v, want %#v", r, w)
		}
	}
	// The trailing connect is still waiting to see whether OK follows.
	if f.notifications.Len() != 0 || f.responses.Len() != 0 {
		t.Fatalf("unexpected extra frames")
	}
	f.feed(t, "+IPD,2,1\r\n")
	if r, _ := f.notifications.Dequeue(); r != (protocol.Connect{LinkID: 2, Unsolicited: true}) {
		t.Fatalf("got %#v", r)
	}
}

func TestFrameSplitAcrossPolls(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "Recv 3 by")
	if f.responses.Len() != 0 {
		t.Fatal("decoded a partial frame")
	}
	f.feed(t, "tes\r\n\r\nSEND")
	f.feed(t, " OK\r\n")
	if r, _ := f.responses.Dequeue(); r != (protocol.SendOk{Len: 3}) {
		t.Fatalf("got %#v", r)
	}
}

func TestFullQueueDrops(t *testing.T) {
	f := newFixture(t)
	f.feed(t, "OK\r\nERROR\r\nOK\r\n")
	if n := f.responses.Len(); n != queue.ResponseCapacity {
		t.Fatalf("queued %d responses", n)
	}
	if r, _ := f.responses.Dequeue(); r != (protocol.Ok{}) {
		t.Fatalf("first = %#v", r)
	}
	if r, _ := f.responses.Dequeue(); r != (protocol.Error{}) {
		t.Fatalf("second = %#v", r)
	}
}

func TestOversizedFrameDiscarded(t *testing.T) {
	f := newFixture(t)
	f.feed(t, strings.Repeat("x", BufferSize)+"\r\nOK\r\n")
	if r, ok := f.responses.Dequeue(); !ok || r != (protocol.Ok{}) {
		t.Fatalf("got %#v, %v", r, ok)
	}
}

func TestPollReportsActivity(t *testing.T) {
	f := newFixture(t)
	read, err := f.ingress.Poll()
	if err != nil || read {
		t.Fatalf("idle Poll = %v, %v", read, err)
	}
	f.device.WriteByte('\n')
	if read, _ := f.ingress.Poll(); !read {
		t.Fatal("Poll missed a byte")
	}
}

func TestRunStopsOnEOF(t *testing.T) {
	f := newFixture(t)
	f.device.Write([]byte("OK\r\n"))
	f.device.Close()

	done := make(chan error, 1)
	go func() { done <- f.ingress.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop at EOF")
	}
	if r, _ := f.responses.Dequeue(); r != (protocol.Ok{}) {
		t.Fatalf("pending bytes not drained: %#v", r)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ingress.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run ignored cancellation")
	}
}
