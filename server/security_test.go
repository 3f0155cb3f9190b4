package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreAuthCommandsRejected(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)

	for _, cmd := range []string{"PWD", "LIST", "RETR x", "STOR x", "CWD /", "DELE x", "MKD d", "PASV"} {
		c.send(cmd)
		c.expect(530)
	}

	// Informational commands stay available before login.
	c.send("SYST")
	c.expect(215)
	c.send("FEAT")
	c.expect(211)
	c.send("NOOP")
	c.expect(200)
}

func TestPassBeforeUser(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.send("PASS whatever")
	c.expect(503)
}

func TestLoginAttemptExhaustion(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t) // default limit is 3

	c := dialControl(t, addr)

	for i := 0; i < 2; i++ {
		c.send("USER %s", testUser)
		c.expect(331)
		c.send("PASS wrong")
		c.expect(530)
	}

	// The third failure gets 530, then 421, then the connection closes.
	c.send("USER %s", testUser)
	c.expect(331)
	c.send("PASS wrong")
	c.expect(530)
	c.expect(421)
	c.expectClosed()
}

func TestLoginSucceedsAfterFailure(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)

	c.send("USER %s", testUser)
	c.expect(331)
	c.send("PASS wrong")
	c.expect(530)

	c.login()
	c.send("PWD")
	c.expect(257)
}

func TestPortBounceRejected(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	// PORT targeting a foreign host must be refused (bounce attack).
	c.send("PORT 192,0,2,1,7,208")
	c.expect(500)

	c.send("EPRT |1|192.0.2.1|2000|")
	c.expect(500)
}

func TestCommandTooLong(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.send("NOOP %s", strings.Repeat("x", MaxCommandLength+16))
	c.expect(500)
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.send("BOGUS")
	c.expect(502)
}

func TestQuitClosesConnection(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.send("QUIT")
	c.expect(221)
	c.expectClosed()
}

func TestRepeatedLoginRejected(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	c.send("PASS %s", testPass)
	c.expect(503)
}

func TestPipelinedCommandsAnsweredInOrder(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	// Several commands sent back to back; replies must come back in the
	// same order.
	c.send("PWD\r\nSYST\r\nNOOP\r\nTYPE I\r\nPWD")
	c.expect(257)
	c.expect(215)
	c.expect(200)
	c.expect(200)
	c.expect(257)
}

func TestRnfrWithoutRnto(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	c.send("RNTO new.txt")
	c.expect(503)
}

func TestPassiveTimeout(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t, WithPassiveTimeout(300*time.Millisecond))

	c := dialControl(t, addr)
	c.login()

	c.send("PASV")
	c.expect(227)

	// Never connect to the advertised port; the transfer must fail once
	// the passive accept times out.
	start := time.Now()
	c.send("LIST")
	code, _ := c.readReply()
	assert.Equal(t, 425, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRestRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	c.send("REST notanumber")
	c.expect(501)
	c.send("REST -5")
	c.expect(501)
	c.send("REST 100")
	c.expect(350)
}

func TestTypeSwitching(t *testing.T) {
	t.Parallel()
	_, addr, _ := newTestServer(t)

	c := dialControl(t, addr)
	c.login()

	c.send("TYPE A")
	c.expect(200)
	c.send("TYPE I")
	c.expect(200)
	c.send("TYPE E")
	c.expect(504)
}

func TestWelcomeMessageOption(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	creds := NewStaticCredentials()
	creds.AddUser(testUser, testPass)
	driver, err := NewFSDriver(root, WithCredentials(creds))
	require.NoError(t, err)

	s, err := NewServer("127.0.0.1:0",
		WithDriver(driver),
		WithWelcomeMessage("Media box at your service"),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	c := dialControl(t, s.Addr().String())
	c.send("NOOP")
	c.expect(200)
}
