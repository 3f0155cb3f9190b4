package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediakit/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// session represents one FTP control connection and its protocol state.
//
// A session starts unauthenticated; USER/PASS move it to authenticated,
// after which navigation, listing and transfer commands are accepted.
// It is destroyed when the control channel closes, QUIT is received, or
// the login-attempt bound is exhausted.
type session struct {
	server *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	tnet   *telnetReader
	mu     sync.Mutex // Protects writer, conn and transfer state

	// Session tracking
	sessionID string
	remoteIP  string

	// Protocol state
	isLoggedIn    bool
	user          string
	loginFailures int
	renameFrom    string // For RNFR/RNTO
	fs            ClientContext
	restartOffset int64  // For REST
	transferType  string // A=ASCII, I=Binary; default I
	lastReplyCode int

	// Background transfer state. While busy, only ABOR/STAT/QUIT are
	// processed; everything else is rejected with 503 so replies never
	// reorder within the session.
	busy           bool
	transferCancel context.CancelFunc
	transferWG     sync.WaitGroup

	// The reader goroutine waits on cmdReqChan between commands so at most
	// one command is buffered ahead of the main loop.
	cmdReqChan chan struct{}

	// Data connection state
	dataConn   net.Conn
	pasvList   net.Listener
	activeIP   string
	activePort int

	// Cache for PASV public-host resolution
	lastPublicHost string
	resolvedIP     net.IP
}

// commandHandlers maps FTP commands to their handler functions.
// USER, PASS, QUIT and NOOP are handled specially in handleCommand.
var commandHandlers = map[string]func(*session, string){
	// Navigation
	"CWD":  (*session).handleCWD,
	"XCWD": (*session).handleCWD,
	"CDUP": (*session).handleCDUP,
	"XCUP": (*session).handleCDUP,
	"PWD":  (*session).handlePWD,
	"XPWD": (*session).handlePWD,

	// Listing
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"MLSD": (*session).handleMLSD,
	"MLST": (*session).handleMLST,

	// File management
	"MKD":  (*session).handleMKD,
	"XMKD": (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,

	// File transfer
	"RETR": (*session).handleRETR,
	"STOR": (*session).handleSTOR,
	"APPE": (*session).handleAPPE,

	// Transfer parameters
	"TYPE": (*session).handleTYPE,
	"PORT": (*session).handlePORT,
	"EPRT": (*session).handleEPRT,
	"PASV": (*session).handlePASV,
	"EPSV": (*session).handleEPSV,
	"REST": (*session).handleREST,

	// Information
	"SIZE": (*session).handleSIZE,
	"MDTM": (*session).handleMDTM,
	"FEAT": (*session).handleFEAT,
	"OPTS": (*session).handleOPTS,
	"SYST": (*session).handleSYST,
	"STAT": (*session).handleSTAT,
	"HELP": (*session).handleHELP,

	// RFC 1123 compliance
	"ACCT": (*session).handleACCT,
	"MODE": (*session).handleMODE,
	"STRU": (*session).handleSTRU,

	// Special
	"ABOR": (*session).handleABOR,
}

// newSession creates a new session for a control connection.
func newSession(server *Server, conn net.Conn) *session {
	tr := newTelnetReader(conn)

	return &session{
		server:       server,
		conn:         conn,
		reader:       bufio.NewReader(tr),
		writer:       bufio.NewWriter(conn),
		tnet:         tr,
		sessionID:    uuid.NewString()[:8],
		remoteIP:     remoteIP(conn),
		transferType: "I",
		cmdReqChan:   make(chan struct{}),
	}
}

type command struct {
	line string
	err  error
}

// serve runs the FTP session.
//
// Concurrency model:
//
//  1. A dedicated reader goroutine reads command lines from the control
//     connection and sends them to the main loop via cmdChan. Between
//     commands it waits on cmdReqChan, so at most one command is buffered
//     ahead of the handler — commands are processed strictly in receipt
//     order.
//
//  2. The main loop dispatches each command to its handler. File transfer
//     commands (RETR, STOR, APPE) reply 150, then run the copy in a
//     background goroutine with the `busy` flag set; while busy, the main
//     loop keeps receiving commands so ABOR (and QUIT) can interrupt the
//     transfer by closing the data connection and canceling its context.
//     All other commands get 503 until the transfer's final reply has
//     been sent. Directory listings are short and run synchronously.
//
//  3. s.mu protects the fields touched by the main loop, the reader
//     goroutine and transfer goroutines (writer, conn, busy, dataConn).
//
//  4. The done channel is closed on exit so the reader goroutine always
//     terminates; close() then cancels any in-flight transfer, closes the
//     data and control sockets and waits for transfer goroutines.
func (s *session) serve() {
	defer s.close()

	s.sendWelcome()

	s.server.logger.Info("session_started",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)

	done := make(chan struct{})
	defer close(done)

	cmdChan := s.startCommandReader(done)

	for {
		cmd, ok := <-cmdChan
		if !ok {
			return
		}

		if cmd.err != nil {
			if cmd.err == errCommandTooLong {
				s.reply(500, "Command line too long.")
			} else if cmd.err != io.EOF {
				s.server.logger.Warn("read error",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"error", cmd.err,
				)
			}
			return
		}

		_ = s.conn.SetReadDeadline(time.Time{})

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
		}

		if !s.handleCommand(cmd.line) {
			return
		}

		if s.server.writeTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}

		select {
		case s.cmdReqChan <- struct{}{}:
		case <-time.After(1 * time.Second):
		}
	}
}

func (s *session) sendWelcome() {
	msg := s.server.welcomeMessage
	if strings.HasPrefix(msg, "220") {
		msg = strings.TrimSpace(strings.TrimPrefix(msg, "220"))
	}
	s.reply(220, msg)
}

func (s *session) startCommandReader(done chan struct{}) chan command {
	cmdChan := make(chan command)
	go func() {
		defer close(cmdChan)
		for {
			if s.server.readTimeout > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
			} else if s.server.maxIdleTime > 0 {
				_ = s.conn.SetReadDeadline(time.Now().Add(s.server.maxIdleTime))
			}

			line, err := s.readCommand()

			select {
			case cmdChan <- command{line, err}:
			case <-done:
				return
			}

			if err != nil {
				return
			}

			select {
			case <-s.cmdReqChan:
			case <-done:
				return
			}
		}
	}()
	return cmdChan
}

var errCommandTooLong = fmt.Errorf("command too long")

// readCommand reads one line from the control channel, bounded by
// MaxCommandLength.
func (s *session) readCommand() (string, error) {
	var line []byte
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			return string(line), err
		}

		if len(line) >= MaxCommandLength {
			return "", errCommandTooLong
		}

		if b == '\n' {
			return string(line), nil
		}
		line = append(line, b)
	}
}

// close tears the session down: cancels any in-flight transfer, releases
// the data connection and passive listener, closes the driver context and
// the control socket, and waits for transfer goroutines to finish.
func (s *session) close() {
	s.mu.Lock()
	if s.transferCancel != nil {
		s.transferCancel()
	}
	pasv := s.pasvList
	data := s.dataConn
	s.mu.Unlock()

	if s.fs != nil {
		s.fs.Close()
	}
	if pasv != nil {
		pasv.Close()
	}
	if data != nil {
		data.Close()
	}
	s.conn.Close()

	s.transferWG.Wait()

	s.server.logger.Debug("session_closed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
}

// handleCommand parses and dispatches a command line. It returns false when
// the session must terminate (QUIT or login-attempt exhaustion).
func (s *session) handleCommand(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return true
	}

	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	logArg := arg
	if cmd == "PASS" {
		logArg = "***"
	}
	s.server.logger.Debug("command_received",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"cmd", cmd,
		"arg", logArg,
	)

	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()

	if busy && cmd != "ABOR" && cmd != "STAT" && cmd != "QUIT" {
		s.reply(503, "Transfer in progress, please ABOR or wait.")
		return true
	}

	start := time.Now()
	alive := s.dispatch(cmd, arg)

	if s.server.metricsCollector != nil {
		s.mu.Lock()
		code := s.lastReplyCode
		s.mu.Unlock()
		s.server.metricsCollector.RecordCommand(cmd, code < 400, time.Since(start))
	}

	return alive
}

// dispatch routes a single command. The pre-authentication state accepts
// only USER, PASS and QUIT (plus NOOP); everything else is rejected by the
// handlers with a 530 reply without closing the connection.
func (s *session) dispatch(cmd, arg string) bool {
	switch cmd {
	case "USER":
		s.handleUSER(arg)
		return true
	case "PASS":
		return s.handlePASS(arg)
	case "QUIT":
		s.reply(221, "Service closing control connection.")
		return false
	case "NOOP":
		s.reply(200, "OK.")
		return true
	default:
		if handler, ok := commandHandlers[cmd]; ok {
			handler(s, arg)
		} else {
			s.reply(502, "Command not implemented.")
		}
		return true
	}
}

// requireAuth replies 530 and returns false when the session has not
// completed USER/PASS yet.
func (s *session) requireAuth() bool {
	if !s.isLoggedIn {
		s.reply(530, "Please login with USER and PASS.")
		return false
	}
	return true
}

// replyError sends a standard error response based on the error kind.
func (s *session) replyError(err error) {
	if os.IsNotExist(err) {
		s.reply(550, "File not found.")
		return
	}
	if os.IsPermission(err) {
		s.reply(550, "Permission denied.")
		return
	}
	if os.IsExist(err) {
		s.reply(550, "File already exists.")
		return
	}
	s.reply(550, "Action failed: "+err.Error())
}

// reply sends a single-line response to the client.
func (s *session) reply(code int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	s.lastReplyCode = code
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}

// replyLines sends a multi-line response using the dash continuation
// convention: "211-first", " line", ..., "211 last".
func (s *session) replyLines(code int, first string, lines []string, last string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	s.lastReplyCode = code
	fmt.Fprintf(s.writer, "%d-%s\r\n", code, first)
	for _, l := range lines {
		fmt.Fprintf(s.writer, " %s\r\n", l)
	}
	fmt.Fprintf(s.writer, "%d %s\r\n", code, last)
	s.writer.Flush()
}

// validateActiveIP ensures the data connection target matches the control
// connection source. This prevents FTP bounce attacks.
func (s *session) validateActiveIP(ip net.IP) bool {
	remote := net.ParseIP(s.remoteIP)
	if remote == nil {
		return false
	}
	return ip.Equal(remote)
}

// rateLimitReader wraps a reader with bandwidth limiting if configured.
// Per-session and global limits chain; the most restrictive wins.
func (s *session) rateLimitReader(r io.Reader) io.Reader {
	if s.server.bandwidthLimitPerSession > 0 {
		r = ratelimit.NewReader(r, ratelimit.New(s.server.bandwidthLimitPerSession))
	}
	if s.server.globalLimiter != nil {
		r = ratelimit.NewReader(r, s.server.globalLimiter)
	}
	return r
}

// rateLimitWriter wraps a writer with bandwidth limiting if configured.
func (s *session) rateLimitWriter(w io.Writer) io.Writer {
	if s.server.bandwidthLimitPerSession > 0 {
		w = ratelimit.NewWriter(w, ratelimit.New(s.server.bandwidthLimitPerSession))
	}
	if s.server.globalLimiter != nil {
		w = ratelimit.NewWriter(w, s.server.globalLimiter)
	}
	return w
}

func (s *session) handleABOR(_ string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.busy {
		s.replyLocked(226, "ABOR command successful; no transfer in progress.")
		return
	}

	s.server.logger.Info("transfer_abort_requested", "session_id", s.sessionID)

	// Closing the data connection interrupts the background copy; the
	// context cancellation tells the transfer goroutine to report 426
	// instead of a success reply.
	if s.dataConn != nil {
		s.dataConn.Close()
	}
	if s.transferCancel != nil {
		s.transferCancel()
	}

	// Per RFC 959 the server sends 426 for the interrupted transfer
	// followed by 226 for the ABOR itself. The transfer goroutine sends
	// the 426; the 226 goes out here.
	s.replyLocked(226, "ABOR command successful; transfer aborted.")
}

// replyLocked is reply for callers already holding s.mu.
func (s *session) replyLocked(code int, message string) {
	if s.writer == nil {
		return
	}
	s.lastReplyCode = code
	fmt.Fprintf(s.writer, "%d %s\r\n", code, message)
	s.writer.Flush()
}
