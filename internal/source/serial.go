package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the firmware's Serial.begin(9600).
const DefaultBaudRate = 9600

// ErrNoDevice is returned when no serial device was given and none
// could be found.
var ErrNoDevice = errors.New("no serial device found")

// listPorts enumerates serial devices; replaced in tests.
var listPorts = serial.GetPortsList

// SerialConfig holds configuration for a serial port source.
type SerialConfig struct {
	// Device is the port path, e.g. /dev/ttyACM0 or COM3.
	Device string
	// BaudRate defaults to DefaultBaudRate. The line is always 8N1.
	BaudRate int
}

func (c SerialConfig) mode() *serial.Mode {
	baud := c.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// openPort opens a serial device; replaced in tests.
var openPort = serial.Open

// NewSerialSource creates a source reading from a serial port. The port
// is opened when the source starts and closed when it stops.
func NewSerialSource(cfg SerialConfig, opts ...ReaderOption) *ReaderSource {
	var s *ReaderSource
	open := func(ctx context.Context) (io.Reader, error) {
		port, err := openPort(cfg.Device, cfg.mode())
		if err != nil {
			return nil, classifySerialError(err)
		}
		// Whatever the driver buffered before we attached usually starts
		// mid-record. The framer copes if the flush fails.
		if err := port.ResetInputBuffer(); err != nil {
			s.sendError(fmt.Errorf("flushing %s input: %w", cfg.Device, err))
		}
		return port, nil
	}
	opts = append([]ReaderOption{WithName(cfg.Device)}, opts...)
	s = NewReaderSource(open, opts...)
	return s
}

// ResolveSerialDevice checks that serial ports can be used here and
// returns the device to open. An empty device selects the first port
// found. Failing the check is a precondition error reported before any
// stream processing starts.
func ResolveSerialDevice(device string) (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("%w: listing serial ports: %v", ErrUnsupported, err)
	}
	device = strings.TrimSpace(device)
	if device != "" {
		for _, p := range ports {
			if p == device {
				return device, nil
			}
		}
		// Symlinks like /dev/serial/by-id/... are not enumerated.
		if _, err := os.Stat(device); err == nil {
			return device, nil
		}
		if len(ports) == 0 {
			return "", fmt.Errorf("serial device %s not found: %w", device, ErrNoDevice)
		}
		return "", fmt.Errorf("serial device %s not found (available: %s): %w",
			device, strings.Join(ports, ", "), ErrNoDevice)
	}
	if len(ports) == 0 {
		return "", ErrNoDevice
	}
	return ports[0], nil
}

// ListSerialDevices returns the serial devices visible on this host.
func ListSerialDevices() ([]string, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("%w: listing serial ports: %v", ErrUnsupported, err)
	}
	return ports, nil
}

func classifySerialError(err error) error {
	var perr *serial.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case serial.FunctionNotImplemented, serial.ErrorEnumeratingPorts:
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		case serial.PortNotFound:
			return fmt.Errorf("%v: %w", err, ErrNoDevice)
		}
	}
	return err
}
