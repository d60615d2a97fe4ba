package ls350

import (
	"strings"
	"sync"
)

// MockConn is an in-memory Conn. Setting commands of the form
// "NAME id,args" update the response of the matching query "NAME? id",
// so a MOUT followed by MOUT? reads back what was written.
type MockConn struct {
	mu        sync.Mutex
	open      bool
	responses map[string]string
	failures  map[string]error
	sent      []string
}

// NewMockConn returns an empty MockConn.
func NewMockConn() *MockConn {
	return &MockConn{
		responses: map[string]string{},
		failures:  map[string]error{},
	}
}

// SetResponse sets the response line returned for query.
func (m *MockConn) SetResponse(query, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[query] = response
}

// FailOn makes every command or query starting with prefix fail with err.
// A nil err removes the failure.
func (m *MockConn) FailOn(prefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, prefix)
		return
	}
	m.failures[prefix] = err
}

// Sent returns every command and query written so far, in order.
func (m *MockConn) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// Commands returns only the setting commands written so far.
func (m *MockConn) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []string
	for _, s := range m.sent {
		if !isQuery(s) {
			ret = append(ret, s)
		}
	}
	return ret
}

// Reset forgets the sent log.
func (m *MockConn) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

func (m *MockConn) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *MockConn) failure(cmd string) error {
	for prefix, err := range m.failures {
		if strings.HasPrefix(cmd, prefix) {
			return err
		}
	}
	return nil
}

func (m *MockConn) Query(cmd string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, cmd)
	if err := m.failure(cmd); err != nil {
		return "", err
	}
	v, ok := m.responses[cmd]
	if !ok || v == "" {
		return "", ErrNoResponse
	}
	return v, nil
}

func (m *MockConn) Command(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, cmd)
	if err := m.failure(cmd); err != nil {
		return err
	}

	name, args, ok := strings.Cut(cmd, " ")
	if !ok {
		return nil
	}
	id, rest, ok := strings.Cut(args, ",")
	if !ok {
		return nil
	}
	m.responses[name+"? "+id] = rest
	return nil
}

func isQuery(cmd string) bool {
	name, _, _ := strings.Cut(cmd, " ")
	return strings.HasSuffix(name, "?")
}
