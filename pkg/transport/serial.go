package transport

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
	"go.bug.st/serial"
)

const (
	serialRxBufferSize = 8192
	serialPollInterval = 5 * time.Millisecond
)

// Serial is a UART link to the co-processor. A reader goroutine moves
// incoming bytes into a ring buffer so ReadByte never blocks.
type Serial struct {
	port serial.Port
	rx   *ringbuffer.RingBuffer

	mu      sync.Mutex
	readErr error
	done    chan struct{}
}

// OpenSerial opens the named port at baud, 8N1.
func OpenSerial(name string, baud int) (*Serial, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", name)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	s := &Serial{
		port: port,
		rx:   ringbuffer.New(serialRxBufferSize),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Serial) readLoop() {
	buf := make([]byte, 256)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		n, err := s.port.Read(buf)
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}
		for _, b := range buf[:n] {
			for s.rx.WriteByte(b) == ringbuffer.ErrIsFull {
				time.Sleep(serialPollInterval)
			}
		}
	}
}

// ReadByte returns io.EOF after Close and the reader's error once the port
// has failed.
func (s *Serial) ReadByte() (byte, error) {
	b, err := s.rx.ReadByte()
	if err == nil {
		return b, nil
	}
	select {
	case <-s.done:
		return 0, io.EOF
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, errors.Wrap(s.readErr, "serial read")
	}
	return 0, ErrWouldBlock
}

func (s *Serial) WriteByte(b byte) error {
	if _, err := s.port.Write([]byte{b}); err != nil {
		return errors.Wrap(err, "serial write")
	}
	return nil
}

// DTR returns the port's DTR modem line as an OutputPin.
func (s *Serial) DTR(activeLow bool) OutputPin {
	return &modemLine{set: s.port.SetDTR, activeLow: activeLow}
}

// RTS returns the port's RTS modem line as an OutputPin.
func (s *Serial) RTS(activeLow bool) OutputPin {
	return &modemLine{set: s.port.SetRTS, activeLow: activeLow}
}

func (s *Serial) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.port.Close()
}

// modemLine drives EN/RST through the adapter's modem control lines, the way
// USB-serial bridges on ESP boards are usually wired.
type modemLine struct {
	set       func(bool) error
	activeLow bool
}

func (m *modemLine) SetHigh() error { return m.set(!m.activeLow) }
func (m *modemLine) SetLow() error  { return m.set(m.activeLow) }
