package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testUser = "kodi"
	testPass = "kodi"
)

// newTestServer starts a server on a random port serving a fresh temp
// directory with the test account. It returns the server, its address and
// the root path. The server is stopped when the test ends.
func newTestServer(t *testing.T, extra ...Option) (*Server, string, string) {
	t.Helper()

	root := t.TempDir()

	creds := NewStaticCredentials()
	creds.AddUser(testUser, testPass)

	driver, err := NewFSDriver(root, WithCredentials(creds))
	require.NoError(t, err)

	opts := append([]Option{WithDriver(driver)}, extra...)
	s, err := NewServer("127.0.0.1:0", opts...)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	return s, s.Addr().String(), root
}

// controlConn is a raw control connection for protocol-level tests.
type controlConn struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialControl(t *testing.T, addr string) *controlConn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &controlConn{t: t, conn: conn, reader: bufio.NewReader(conn)}
	c.expect(220)
	return c
}

func (c *controlConn) send(format string, args ...interface{}) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, format+"\r\n", args...)
	require.NoError(c.t, err)
}

// readReply returns the code of the next complete reply, skipping the lines
// of a multi-line response.
func (c *controlConn) readReply() (int, string) {
	c.t.Helper()

	_ = c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	line = strings.TrimRight(line, "\r\n")
	require.GreaterOrEqual(c.t, len(line), 4, "short reply line: %q", line)

	var code int
	_, err = fmt.Sscanf(line[:3], "%d", &code)
	require.NoError(c.t, err)

	if line[3] == '-' {
		terminator := line[:3] + " "
		for {
			next, err := c.reader.ReadString('\n')
			require.NoError(c.t, err)
			if strings.HasPrefix(next, terminator) {
				line = strings.TrimRight(next, "\r\n")
				break
			}
		}
	}

	return code, line
}

func (c *controlConn) expect(code int) string {
	c.t.Helper()
	got, line := c.readReply()
	require.Equal(c.t, code, got, "unexpected reply: %s", line)
	return line
}

func (c *controlConn) login() {
	c.t.Helper()
	c.send("USER %s", testUser)
	c.expect(331)
	c.send("PASS %s", testPass)
	c.expect(230)
}

// expectClosed asserts that the server has closed the control connection.
func (c *controlConn) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.reader.ReadByte()
	require.Error(c.t, err)
}
