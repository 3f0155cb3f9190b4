package server

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoppableServer(t *testing.T, addr string) *Server {
	t.Helper()

	creds := NewStaticCredentials()
	creds.AddUser(testUser, testPass)
	driver, err := NewFSDriver(t.TempDir(), WithCredentials(creds))
	require.NoError(t, err)

	s, err := NewServer(addr, WithDriver(driver))
	require.NoError(t, err)
	return s
}

func TestStartStopRestartSameAddress(t *testing.T) {
	t.Parallel()

	s := newStoppableServer(t, "127.0.0.1:0")
	require.NoError(t, s.Start())
	addr := s.Addr().String()
	require.NoError(t, s.Stop())

	// Stop released the port, so binding the same address must succeed
	// immediately.
	s2 := newStoppableServer(t, addr)
	require.NoError(t, s2.Start())
	defer s2.Stop()

	c := dialControl(t, addr)
	c.login()
}

func TestDoubleStartFails(t *testing.T) {
	t.Parallel()

	s := newStoppableServer(t, "127.0.0.1:0")
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Error(t, s.Start(), "second Start on a running server")
}

func TestStartFailsOnBoundPort(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := newStoppableServer(t, ln.Addr().String())
	assert.Error(t, s.Start())
}

func TestStopClosesActiveSessions(t *testing.T) {
	t.Parallel()

	s := newStoppableServer(t, "127.0.0.1:0")
	require.NoError(t, s.Start())
	addr := s.Addr().String()

	conns := make([]*controlConn, 3)
	for i := range conns {
		conns[i] = dialControl(t, addr)
		conns[i].login()
	}

	require.NoError(t, s.Stop())

	for _, c := range conns {
		c.expectClosed()
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newStoppableServer(t, "127.0.0.1:0")
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestServeReturnsErrServerClosed(t *testing.T) {
	t.Parallel()

	s := newStoppableServer(t, "127.0.0.1:0")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	// Give Serve a moment to take ownership of the listener.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, s.Shutdown())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestMaxConnectionsRejectsWith421(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creds := NewStaticCredentials()
	creds.AddUser(testUser, testPass)
	driver, err := NewFSDriver(root, WithCredentials(creds))
	require.NoError(t, err)

	s, err := NewServer("127.0.0.1:0", WithDriver(driver), WithMaxConnections(1))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()
	addr := s.Addr().String()

	first := dialControl(t, addr)
	first.login()

	// The second connection is turned away before a session starts.
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "421"), "got %q", line)
}

func TestMaxConnectionsPerIP(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creds := NewStaticCredentials()
	creds.AddUser(testUser, testPass)
	driver, err := NewFSDriver(root, WithCredentials(creds))
	require.NoError(t, err)

	s, err := NewServer("127.0.0.1:0", WithDriver(driver), WithMaxConnectionsPerIP(1))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()
	addr := s.Addr().String()

	first := dialControl(t, addr)
	first.login()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "421"), "got %q", line)
}
