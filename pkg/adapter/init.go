package adapter

import (
	"bytes"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ESP-AT/pkg/ingress"
	"ESP-AT/pkg/protocol"
	"ESP-AT/pkg/queue"
	"ESP-AT/pkg/transport"
)

const (
	// maxReadErrors is how many failed reads the handshake tolerates. Reads
	// that only found no data do not count.
	maxReadErrors = 10000
	scratchSize   = 1024
	idleWait      = 100 * time.Microsecond
)

var (
	readyBanner = []byte("ready\r\n")
	okLine      = []byte("OK\r\n")
)

// initCommands put the firmware into the mode the adapter expects: no echo,
// multiplexed links and passive receive.
var initCommands = []string{
	"ATE0",
	"AT+CIPMUX=1",
	"AT+CIPRECVMODE=1",
}

// Initialize powers the co-processor up through its enable and reset lines,
// waits for it to boot and configures it. On success it returns the Adapter
// bound to tx and the Ingress bound to rx; the caller must run the Ingress
// (usually Ingress.Run in its own goroutine) for any adapter call to
// complete.
func Initialize(tx transport.ByteSink, rx transport.ByteSource, enable, reset transport.OutputPin, opts ...Option) (*Adapter, *ingress.Ingress, error) {
	o := buildOptions(opts)
	log := o.logger

	if err := enable.SetHigh(); err != nil {
		return nil, nil, errors.Wrapf(ErrUnableToInitialize, "enable pin: %v", err)
	}
	if err := reset.SetHigh(); err != nil {
		return nil, nil, errors.Wrapf(ErrUnableToInitialize, "reset pin: %v", err)
	}

	if err := expect(rx, readyBanner, o.initTimeout); err != nil {
		return nil, nil, errors.Wrap(err, "waiting for ready banner")
	}
	log.Debug("co-processor ready")

	for _, cmd := range initCommands {
		if err := transport.WriteAll(tx, []byte(cmd+"\r\n")); err != nil {
			return nil, nil, errors.Wrapf(ErrUnableToInitialize, "write %s: %v", cmd, err)
		}
		if err := expect(rx, okLine, o.initTimeout); err != nil {
			return nil, nil, errors.Wrapf(err, "waiting for OK after %s", cmd)
		}
		log.Debug("init command accepted", zap.String("command", cmd))
	}

	respP, respC := queue.Split[protocol.Response](queue.ResponseCapacity)
	notifP, notifC := queue.Split[protocol.Response](queue.NotificationCapacity)
	in := ingress.New(rx, respP, notifP, ingress.WithLogger(log.Named("ingress")))
	return newAdapter(tx, respC, notifC, o), in, nil
}

// expect reads rx until the bytes seen end with want. A zero timeout waits
// forever.
func expect(rx transport.ByteSource, want []byte, timeout time.Duration) error {
	var (
		scratch  [scratchSize]byte
		n        int
		failures int
		deadline time.Time
	)
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return errors.Wrapf(ErrUnableToInitialize, "no %q within %v", want, timeout)
		}
		b, err := rx.ReadByte()
		if err != nil {
			if errors.Is(err, transport.ErrWouldBlock) {
				time.Sleep(idleWait)
				continue
			}
			failures++
			if failures > maxReadErrors {
				return errors.Wrapf(ErrUnableToInitialize, "%d read errors, last: %v", failures, err)
			}
			continue
		}

		if n == len(scratch) {
			// Keep enough of the tail to finish a match that straddles the edge.
			n = copy(scratch[:], scratch[n-(len(want)-1):n])
		}
		scratch[n] = b
		n++
		if bytes.HasSuffix(scratch[:n], want) {
			return nil
		}
	}
}
