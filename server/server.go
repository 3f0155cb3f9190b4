package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mediakit/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It owns the listener lifecycle, accepts incoming control connections and
// dispatches them to sessions. Each session runs in its own goroutine.
//
// Lifecycle:
//  1. Create the server with NewServer()
//  2. Run it with Start() (background) or ListenAndServe()/Serve() (blocking)
//  3. Stop() closes the listener, terminates all sessions and in-flight
//     transfers, and returns once the listening socket is released
//
// Embedding example:
//
//	creds := server.NewStaticCredentials()
//	creds.AddUser("kodi", "kodi")
//	driver, _ := server.NewFSDriver("/media", server.WithCredentials(creds))
//	s, err := server.NewServer(":2121", server.WithDriver(driver))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Stop()
type Server struct {
	// addr is the TCP address to listen on (e.g., ":2121").
	addr string

	// driver is the backend for authentication and file operations.
	driver Driver

	logger *slog.Logger

	// welcomeMessage is the banner sent to clients on connection.
	welcomeMessage string

	// maxIdleTime closes connections with no command traffic.
	maxIdleTime time.Duration

	// readTimeout/writeTimeout are per-operation deadlines; 0 disables them.
	readTimeout  time.Duration
	writeTimeout time.Duration

	// passiveTimeout bounds the wait for the client's inbound data
	// connection in passive mode.
	passiveTimeout time.Duration

	// maxLoginAttempts bounds failed PASS commands per session.
	maxLoginAttempts int

	// maxConnections / maxConnectionsPerIP bound concurrent sessions.
	// 0 means unlimited.
	maxConnections      int
	maxConnectionsPerIP int

	// Bandwidth throttling; nil/0 means unlimited.
	globalLimiter            *ratelimit.Limiter
	bandwidthLimitPerSession int64

	metricsCollector MetricsCollector

	// nextPassivePort round-robins over a configured passive port range.
	nextPassivePort atomic.Int32

	// activeConns tracks the number of currently active sessions.
	activeConns atomic.Int32

	// connsByIP tracks the number of active connections per IP address.
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	// Lifecycle state. lifecycleMu serializes Start/Stop so a Stop cannot
	// race a concurrent Start on the same instance.
	lifecycleMu sync.Mutex
	serveDone   chan struct{}

	mu         sync.Mutex
	listener   net.Listener
	conns      map[net.Conn]struct{}
	inShutdown atomic.Bool
	sessionWG  sync.WaitGroup
}

// ErrServerClosed is returned by Serve and ListenAndServe after a call to
// Stop or Shutdown.
var ErrServerClosed = errors.New("ftpd: server closed")

// NewServer creates a new FTP server with the given address and options.
// The address should be in the form ":port" or "host:port".
// The driver must be provided via the WithDriver option.
//
// Default values:
//   - Logger: slog.Default()
//   - MaxIdleTime: 5 minutes
//   - MaxConnections: 0 (unlimited)
//   - PassiveTimeout: 30 seconds
//   - MaxLoginAttempts: 3
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:             addr,
		logger:           slog.Default(),
		welcomeMessage:   "220 FTP Server Ready",
		maxIdleTime:      5 * time.Minute,
		passiveTimeout:   30 * time.Second,
		maxLoginAttempts: 3,
		conns:            make(map[net.Conn]struct{}),
		connsByIP:        make(map[string]int32),
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.driver == nil {
		return nil, fmt.Errorf("driver is required (use WithDriver option)")
	}

	return s, nil
}

// Start binds the configured address and serves in the background.
// It fails without side effects if the port is already bound, and errors
// if the server is already running.
func (s *Server) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	running := s.listener != nil
	s.mu.Unlock()
	if running {
		return fmt.Errorf("server already running on %s", s.addr)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.inShutdown.Store(false)
	// Publish the listener before Serve runs so Addr works as soon as
	// Start returns.
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	done := make(chan struct{})
	s.serveDone = done

	s.logger.Info("ftp server listening", "addr", ln.Addr().String())
	go func() {
		defer close(done)
		if err := s.Serve(ln); err != nil && err != ErrServerClosed {
			s.logger.Error("serve error", "error", err)
		}
	}()
	return nil
}

// Stop closes the listener, force-closes every active session and data
// connection, and returns only once the listening socket is released and
// all session goroutines have finished. A subsequent Start on the same
// address therefore cannot race with the shutdown. Stop is idempotent.
func (s *Server) Stop() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	err := s.Shutdown()

	if s.serveDone != nil {
		<-s.serveDone
		s.serveDone = nil
	}
	s.sessionWG.Wait()
	return err
}

// Shutdown immediately closes the listener and all active connections
// (control and data). Unlike Stop it does not wait for session goroutines;
// use it when the caller drives Serve itself.
func (s *Server) Shutdown() error {
	s.inShutdown.Store(true)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := s.conns
	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}

	for conn := range conns {
		conn.Close()
	}

	return err
}

// Addr returns the address the server is listening on, or nil when it is
// not running. Useful when the configured address uses port 0.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe starts the FTP server on the configured address.
// It blocks until the server stops or an error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("ftp server listening", "addr", ln.Addr().String())
	return s.Serve(ln)
}

// Serve accepts incoming control connections on the listener l.
// It blocks until the listener is closed or an error occurs, and returns
// ErrServerClosed after Stop/Shutdown.
//
// Each connection is handled in a separate goroutine. The server enforces
// session limits (if configured) and idle timeouts.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.inShutdown.Load() {
		s.mu.Unlock()
		l.Close()
		return ErrServerClosed
	}
	s.listener = l
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.listener == l {
			s.listener = nil
		}
		s.mu.Unlock()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		s.sessionWG.Add(1)
		go func() {
			defer s.sessionWG.Done()
			s.handleConnection(conn)
		}()
	}
}

// handleConnection tracks a new client connection for shutdown and hands
// it to a session.
func (s *Server) handleConnection(conn net.Conn) {
	if !s.trackConnection(conn, true) {
		conn.Close()
		return
	}
	defer s.trackConnection(conn, false)

	s.handleSession(conn)
}

// trackConnection returns false if the server is shutting down.
func (s *Server) trackConnection(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inShutdown.Load() {
		conn.Close()
		return false
	}

	ip := remoteIP(conn)
	if add {
		s.conns[conn] = struct{}{}

		if s.maxConnectionsPerIP > 0 {
			s.connsByIPMu.Lock()
			s.connsByIP[ip]++
			s.connsByIPMu.Unlock()
		}
		return true
	}

	delete(s.conns, conn)

	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		s.connsByIP[ip]--
		if s.connsByIP[ip] <= 0 {
			delete(s.connsByIP, ip)
		}
		s.connsByIPMu.Unlock()
	}
	return true
}

// remoteIP extracts the IP portion of a connection's remote address.
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return ip
}

// trackingConn wraps a net.Conn to untrack it in the server when closed.
// Data connections are wrapped with this so Stop can force-close them.
type trackingConn struct {
	net.Conn
	server *Server
}

func (c *trackingConn) Close() error {
	c.server.trackConnection(c.Conn, false)
	return c.Conn.Close()
}

// handleSession enforces connection limits and runs the session loop.
func (s *Server) handleSession(conn net.Conn) {
	ip := remoteIP(conn)

	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		s.logger.Warn("connection_rejected",
			"remote_ip", ip,
			"reason", "global_limit_reached",
			"limit", s.maxConnections,
		)
		if s.metricsCollector != nil {
			s.metricsCollector.RecordConnection(false, "global_limit_reached")
		}
		fmt.Fprintf(conn, "421 Too many users, sorry.\r\n")
		conn.Close()
		return
	}

	if s.maxConnectionsPerIP > 0 {
		s.connsByIPMu.Lock()
		count := s.connsByIP[ip]
		s.connsByIPMu.Unlock()
		if count > int32(s.maxConnectionsPerIP) {
			s.logger.Warn("connection_rejected",
				"remote_ip", ip,
				"reason", "per_ip_limit_reached",
				"limit", s.maxConnectionsPerIP,
			)
			if s.metricsCollector != nil {
				s.metricsCollector.RecordConnection(false, "per_ip_limit_reached")
			}
			fmt.Fprintf(conn, "421 Too many connections from your IP address.\r\n")
			conn.Close()
			return
		}
	}

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
	}

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	session := newSession(s, conn)
	session.serve()
}
