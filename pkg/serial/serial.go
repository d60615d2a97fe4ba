// Package serial provides a raw termios serial port for line-oriented
// instruments such as the Lake Shore 350.
package serial

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	ErrTimeout = errors.New("serial: operation timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Parity selects the parity bit of each character.
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., /dev/ttyUSB0)
	Device string

	BaudRate int
	// DataBits is 7 or 8.
	DataBits int
	Parity   Parity
	// StopBits is 1 or 2.
	StopBits int

	// ReadTimeout bounds a whole ReadLine call.
	ReadTimeout time.Duration
}

// DefaultConfig returns the framing used by Lake Shore 3xx controllers:
// 57600 baud, 7 data bits, odd parity, 1 stop bit.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/ttyUSB0",
		BaudRate:    57600,
		DataBits:    7,
		Parity:      ParityOdd,
		StopBits:    1,
		ReadTimeout: 2 * time.Second,
	}
}

// Port represents an open serial port.
type Port struct {
	mu         sync.Mutex
	fd         int
	device     string
	config     Config
	closed     bool
	oldTermios *unix.Termios
	// pending holds bytes received after the last returned line.
	pending []byte
}

// Open opens a serial port with the given configuration.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: device path required")
	}
	def := DefaultConfig()
	if cfg.BaudRate == 0 {
		cfg.BaudRate = def.BaudRate
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = def.DataBits
	}
	if cfg.Parity == "" {
		cfg.Parity = def.Parity
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = def.StopBits
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", cfg.Device, err)
	}

	oldTermios, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	termios := *oldTermios
	if err := configureTermios(&termios, cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &termios); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serial: set blocking: %w", err)
	}

	p := &Port{
		fd:         fd,
		device:     cfg.Device,
		config:     cfg,
		oldTermios: oldTermios,
	}
	if err := p.Flush(); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: flush: %w", err)
	}
	return p, nil
}

// configureTermios puts t into raw mode with the framing described by cfg.
func configureTermios(t *unix.Termios, cfg Config) error {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CREAD | unix.CLOCAL

	switch cfg.DataBits {
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return fmt.Errorf("serial: unsupported data bits %d", cfg.DataBits)
	}

	switch cfg.Parity {
	case ParityNone:
	case ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		t.Cflag |= unix.PARENB
	default:
		return fmt.Errorf("serial: unsupported parity %q", cfg.Parity)
	}

	switch cfg.StopBits {
	case 1:
	case 2:
		t.Cflag |= unix.CSTOPB
	default:
		return fmt.Errorf("serial: unsupported stop bits %d", cfg.StopBits)
	}

	speed, ok := baudRates[cfg.BaudRate]
	if !ok {
		return fmt.Errorf("serial: unsupported baud rate %d", cfg.BaudRate)
	}
	setSpeed(t, speed)

	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
	return nil
}

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

// Read reads up to len(buf) bytes, waiting at most the configured read
// timeout for the first byte.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	p.mu.Unlock()

	return readFd(fd, buf, timeout)
}

func readFd(fd int, buf []byte, timeout time.Duration) (int, error) {
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("serial: poll: %w", err)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return 0, io.EOF
	}

	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// ReadLine reads bytes up to and including term and returns the line
// without the terminator. Parity bits are already stripped by the driver.
// It returns ErrTimeout if no complete line arrives within the read
// timeout; any partial data is returned alongside the error.
func (p *Port) ReadLine(term byte) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	fd := p.fd
	timeout := p.config.ReadTimeout
	buf := p.pending
	p.pending = nil
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 64)
	for {
		if i := bytes.IndexByte(buf, term); i >= 0 {
			p.mu.Lock()
			p.pending = append(p.pending, buf[i+1:]...)
			p.mu.Unlock()
			return string(buf[:i]), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return string(buf), ErrTimeout
		}
		n, err := readFd(fd, chunk, remaining)
		if err != nil {
			return string(buf), err
		}
		buf = append(buf, chunk[:n]...)
	}
}

// Write writes buf to the port.
func (p *Port) Write(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosed
	}
	fd := p.fd
	p.mu.Unlock()

	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Flush discards any data in the input and output buffers, including
// bytes already received but not yet returned by ReadLine.
func (p *Port) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	fd := p.fd
	p.pending = nil
	p.mu.Unlock()

	return flush(fd)
}

// Close restores the original termios settings and closes the port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.oldTermios != nil {
		_ = unix.IoctlSetTermios(p.fd, ioctlSetTermios, p.oldTermios)
	}
	return unix.Close(p.fd)
}

// Device returns the device path.
func (p *Port) Device() string {
	return p.device
}

// SetReadTimeout sets the read timeout.
func (p *Port) SetReadTimeout(d time.Duration) {
	p.mu.Lock()
	p.config.ReadTimeout = d
	p.mu.Unlock()
}
