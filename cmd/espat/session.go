package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ESP-AT/pkg/adapter"
	"ESP-AT/pkg/config"
	"ESP-AT/pkg/emulator"
	"ESP-AT/pkg/logging"
	"ESP-AT/pkg/transport"
)

// session is a running driver: the stack plus everything that must be torn
// down with it.
type session struct {
	cfg    *config.Config
	log    *zap.Logger
	stack  *adapter.NetworkStack
	closer func()
}

func (s *session) Close() {
	s.closer()
	s.log.Sync()
}

func startSession(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	port, _ := cmd.Flags().GetString("port")
	emulate, _ := cmd.Flags().GetBool("emulate")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if port != "" {
		cfg.Serial.Port = port
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	closers := []func(){cancel}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		tx            transport.ByteSink
		rx            transport.ByteSource
		enable, reset transport.OutputPin = transport.NopPin{}, transport.NopPin{}
	)
	if emulate {
		host, dev := transport.NewPipe(transport.DefaultPipeSize)
		opts := []emulator.Option{
			emulator.WithResponder(httpResponder),
			emulator.WithLogger(log.Named("emulator")),
		}
		if cfg.WiFi.SSID != "" {
			opts = append(opts, emulator.WithNetwork(cfg.WiFi.SSID, cfg.WiFi.Password))
		}
		go emulator.New(dev, opts...).Run(ctx)
		closers = append(closers, func() { host.Close() })
		tx, rx = host, host
		log.Info("using emulated co-processor")
	} else {
		serialPort, err := transport.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { serialPort.Close() })
		enable = controlLine(serialPort, cfg.Serial.Enable, cfg.Serial.ActiveLow)
		reset = controlLine(serialPort, cfg.Serial.Reset, cfg.Serial.ActiveLow)
		tx, rx = serialPort, serialPort
		log.Info("opened serial port", zap.String("port", cfg.Serial.Port), zap.Int("baud", cfg.Serial.Baud))
	}

	a, in, err := adapter.Initialize(tx, rx, enable, reset,
		adapter.WithLogger(log),
		adapter.WithInitTimeout(cfg.Adapter.InitTimeout()),
		adapter.WithResponseTimeout(cfg.Adapter.ResponseTimeout()),
	)
	if err != nil {
		closeAll()
		return nil, err
	}
	go in.Run(ctx)

	return &session{cfg: cfg, log: log, stack: a.NetworkStack(), closer: closeAll}, nil
}

func controlLine(port *transport.Serial, line string, activeLow bool) transport.OutputPin {
	switch line {
	case "dtr":
		return port.DTR(activeLow)
	case "rts":
		return port.RTS(activeLow)
	}
	return transport.NopPin{}
}

// joinConfigured joins the configured access point, if there is one.
func (s *session) joinConfigured() error {
	if s.cfg.WiFi.SSID == "" {
		return nil
	}
	if err := s.stack.Join(s.cfg.WiFi.SSID, s.cfg.WiFi.Password); err != nil {
		return errors.Wrapf(err, "join %s", s.cfg.WiFi.SSID)
	}
	return nil
}

// httpResponder plays a minimal HTTP/1.0 server behind emulated links.
func httpResponder(remote netip.AddrPort, payload []byte) ([]byte, bool) {
	request := string(payload)
	if !strings.HasPrefix(request, "GET ") {
		return nil, false
	}
	path, _, _ := strings.Cut(strings.TrimPrefix(request, "GET "), " ")
	body := fmt.Sprintf("hello from %v%s\n", remote, path)
	return []byte(fmt.Sprintf("HTTP/1.0 200 OK\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s", len(body), body)), true
}
