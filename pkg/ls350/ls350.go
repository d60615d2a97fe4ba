// Package ls350 speaks the Lake Shore 350 command language over a
// line-oriented request/response link.
package ls350

import (
	"errors"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gl7cryo/gl7ctl/pkg/serial"
)

// ErrNoResponse is returned when the instrument sends back an empty line
// or nothing at all before the read timeout.
var ErrNoResponse = errors.New("ls350: no response")

// Conn is a request/response link to the instrument. Every call is one
// complete round trip; implementations must not interleave round trips.
type Conn interface {
	Open() error
	Close() error
	// Query writes cmd and returns exactly one response line.
	Query(cmd string) (string, error)
	// Command writes cmd, which produces no response.
	Command(cmd string) error
}

// LakeShore is a wrapper of Conn.
type LakeShore struct {
	conn Conn
}

// New returns a LakeShore on the serial port described by cfg. settle is
// the pause between writing a command and reading its response.
func New(cfg serial.Config, settle time.Duration) *LakeShore {
	return &LakeShore{
		conn: &serialConn{cfg: cfg, settle: settle},
	}
}

// NewWithConn returns a LakeShore using an existing connection.
func NewWithConn(conn Conn) *LakeShore {
	return &LakeShore{conn: conn}
}

// NewMock returns a LakeShore backed by a MockConn prefilled with
// responses keyed by the full query string (e.g. "KRDG? B").
func NewMock(prefill map[string]string) (*LakeShore, *MockConn) {
	m := NewMockConn()
	for k, v := range prefill {
		m.SetResponse(k, v)
	}
	return &LakeShore{conn: m}, m
}

// Open opens the connection.
func (c *LakeShore) Open() error {
	return c.conn.Open()
}

// Close closes the connection.
func (c *LakeShore) Close() error {
	return c.conn.Close()
}

// Query sends a query and returns its trimmed response line.
func (c *LakeShore) Query(cmd string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"cmd": cmd,
	}).Trace("Trying to query LS350")

	v, err := c.conn.Query(cmd)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"cmd": cmd,
		"val": v,
	}).Trace("Query LS350 succeed")

	return v, nil
}

// Command sends a setting command.
func (c *LakeShore) Command(cmd string) error {
	logrus.WithFields(logrus.Fields{
		"cmd": cmd,
	}).Trace("Trying to send command to LS350")

	err := c.conn.Command(cmd)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"cmd": cmd,
	}).Trace("Send command to LS350 succeed")

	return nil
}

// port is the part of *serial.Port used by serialConn.
type port interface {
	Write(buf []byte) (int, error)
	ReadLine(term byte) (string, error)
	Flush() error
	Close() error
}

type serialConn struct {
	mu     sync.Mutex
	cfg    serial.Config
	settle time.Duration
	port   port
}

func (s *serialConn) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return nil
	}
	p, err := serial.Open(s.cfg)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open %s", s.cfg.Device)
	}
	s.port = p
	return nil
}

func (s *serialConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

func (s *serialConn) write(cmd string) error {
	if s.port == nil {
		return serial.ErrClosed
	}
	// A reply that arrived after an earlier read timed out must not be
	// taken as the answer to cmd.
	if err := s.port.Flush(); err != nil {
		return pkgerrors.Wrapf(err, "failed to flush before %q", cmd)
	}
	if _, err := s.port.Write([]byte(cmd + Terminator)); err != nil {
		return pkgerrors.Wrapf(err, "failed to write %q", cmd)
	}
	time.Sleep(s.settle)
	return nil
}

func (s *serialConn) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(cmd); err != nil {
		return "", err
	}

	line, err := s.port.ReadLine(Terminator[0])
	line = strings.TrimSpace(line)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) && line == "" {
			return "", ErrNoResponse
		}
		if !errors.Is(err, serial.ErrTimeout) {
			return "", pkgerrors.Wrapf(err, "failed to read response to %q", cmd)
		}
		// A partial line without terminator is still handed back; the
		// reading classifier decides whether it is usable.
	}
	if line == "" {
		return "", ErrNoResponse
	}
	return line, nil
}

func (s *serialConn) Command(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(cmd)
}
