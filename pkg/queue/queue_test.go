package queue

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestEnqueueFailsWhenFull(t *testing.T) {
	p, c := Split[int](ResponseCapacity)
	if !p.Enqueue(1) || !p.Enqueue(2) {
		t.Fatal("enqueue into empty queue failed")
	}
	if p.Enqueue(3) {
		t.Fatal("enqueue into full queue succeeded")
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
}

func TestDequeueOrder(t *testing.T) {
	p, c := Split[string](4)
	p.Enqueue("a")
	p.Enqueue("b")

	for _, want := range []string{"a", "b"} {
		got, ok := c.Dequeue()
		if !ok || got != want {
			t.Fatalf("Dequeue = %q, %v; want %q", got, ok, want)
		}
	}
	if _, ok := c.Dequeue(); ok {
		t.Fatal("Dequeue on empty queue reported a value")
	}
}

func TestWaitTimesOut(t *testing.T) {
	_, c := Split[int](1)
	if _, err := c.Wait(10 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestWaitReceivesFromOtherGoroutine(t *testing.T) {
	p, c := Split[int](1)
	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Enqueue(42)
	}()
	v, err := c.Wait(0)
	if err != nil || v != 42 {
		t.Fatalf("Wait = %d, %v", v, err)
	}
}
