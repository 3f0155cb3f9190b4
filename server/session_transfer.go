package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// beginTransfer marks the session busy and registers the data connection so
// ABOR and session teardown can interrupt the copy.
func (s *session) beginTransfer(conn net.Conn) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.busy = true
	s.transferCancel = cancel
	s.dataConn = conn
	s.mu.Unlock()
	return ctx
}

// finishTransfer sends the final transfer reply and clears the busy state in
// one critical section, so no other reply can interleave between the data
// copy finishing and its completion code going out.
func (s *session) finishTransfer(code int, message string) {
	s.mu.Lock()
	s.replyLocked(code, message)
	s.busy = false
	s.transferCancel = nil
	s.dataConn = nil
	s.mu.Unlock()
}

// logTransfer records a completed transfer in the log and metrics.
func (s *session) logTransfer(operation, path string, bytes int64, duration time.Duration) {
	throughputMBps := float64(0)
	if duration.Seconds() > 0 {
		throughputMBps = float64(bytes) / duration.Seconds() / 1024 / 1024
	}

	s.server.logger.Info("transfer_complete",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"operation", operation,
		"path", path,
		"bytes", bytes,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
	)

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(operation, bytes, duration)
	}
}

func (s *session) handleRETR(path string) {
	if !s.requireAuth() {
		return
	}

	file, err := s.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		s.replyError(err)
		return
	}

	offset := s.restartOffset
	s.restartOffset = 0
	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			s.replyError(err)
			return
		}
	}

	conn, err := s.connData()
	if err != nil {
		file.Close()
		s.reply(425, "Can't open data connection.")
		return
	}

	if offset > 0 {
		s.reply(150, fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset))
	} else {
		s.reply(150, "Opening data connection for RETR.")
	}

	ascii := s.transferType == "A"
	ctx := s.beginTransfer(conn)

	s.transferWG.Add(1)
	go func() {
		defer s.transferWG.Done()
		defer file.Close()
		defer conn.Close()

		var src io.Reader = file
		if ascii {
			src = newCRLFReader(file)
		}
		dst := s.rateLimitWriter(conn)

		start := time.Now()
		bytes, err := io.Copy(dst, src)
		if err != nil || ctx.Err() != nil {
			if ctx.Err() == nil {
				s.server.logger.Warn("transfer_failed",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"operation", "RETR",
					"path", path,
					"error", err,
				)
			}
			s.finishTransfer(426, "Connection closed; transfer aborted.")
			return
		}

		s.logTransfer("RETR", path, bytes, time.Since(start))
		s.finishTransfer(226, "Transfer complete.")
	}()
}

func (s *session) handleSTOR(path string) {
	if !s.requireAuth() {
		return
	}

	// REST before STOR means resume at the offset instead of truncating.
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if s.restartOffset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}
	s.storeFile("STOR", path, flags)
}

func (s *session) handleAPPE(path string) {
	if !s.requireAuth() {
		return
	}
	s.restartOffset = 0
	s.storeFile("APPE", path, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
}

// storeFile is the shared upload path for STOR and APPE.
func (s *session) storeFile(operation, path string, flags int) {
	file, err := s.fs.OpenFile(path, flags)
	if err != nil {
		s.replyError(err)
		return
	}

	offset := s.restartOffset
	s.restartOffset = 0
	if offset > 0 {
		seeker, ok := file.(io.Seeker)
		if !ok {
			file.Close()
			s.reply(550, "Resume not supported for this file.")
			return
		}
		if _, err := seeker.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			s.replyError(err)
			return
		}
	}

	conn, err := s.connData()
	if err != nil {
		file.Close()
		s.reply(425, "Can't open data connection.")
		return
	}

	s.reply(150, "Opening data connection for "+operation+".")

	ascii := s.transferType == "A"
	ctx := s.beginTransfer(conn)

	s.transferWG.Add(1)
	go func() {
		defer s.transferWG.Done()
		defer file.Close()
		defer conn.Close()

		var src io.Reader = s.rateLimitReader(conn)
		if ascii {
			src = newLFReader(src)
		}

		start := time.Now()
		bytes, err := io.Copy(file, src)
		if err != nil || ctx.Err() != nil {
			if ctx.Err() == nil {
				s.server.logger.Warn("transfer_failed",
					"session_id", s.sessionID,
					"remote_ip", s.remoteIP,
					"user", s.user,
					"operation", operation,
					"path", path,
					"error", err,
				)
			}
			s.finishTransfer(426, "Connection closed; transfer aborted.")
			return
		}

		s.logTransfer(operation, path, bytes, time.Since(start))
		s.finishTransfer(226, "Transfer complete.")
	}()
}

func (s *session) handleTYPE(arg string) {
	if !s.requireAuth() {
		return
	}
	// ASCII (A) and Binary (I) only; EBCDIC is refused.
	switch strings.ToUpper(arg) {
	case "A", "A N":
		s.transferType = "A"
		s.reply(200, "Type set to A.")
	case "I", "L 8":
		s.transferType = "I"
		s.reply(200, "Type set to I.")
	default:
		s.reply(504, "Type not supported.")
	}
}

func (s *session) handlePORT(arg string) {
	if !s.requireAuth() {
		return
	}

	// Format: h1,h2,h3,h4,p1,p2
	parts := strings.Split(arg, ",")
	if len(parts) != 6 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		s.reply(501, "Invalid port number.")
		return
	}

	ip := net.ParseIP(strings.Join(parts[0:4], "."))
	if ip == nil {
		s.reply(501, "Invalid IP address.")
		return
	}

	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal PORT command.")
		return
	}

	s.activeIP = ip.String()
	s.activePort = p1*256 + p2

	s.reply(200, "PORT command successful.")
}

func (s *session) handleEPRT(arg string) {
	if !s.requireAuth() {
		return
	}

	if len(arg) < 4 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	// Format: <delim><proto><delim><ip><delim><port><delim>
	delim := string(arg[0])
	parts := strings.Split(arg, delim)
	if len(parts) != 5 {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}

	proto := parts[1]
	ipStr := parts[2]
	portStr := parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		s.reply(501, "Invalid network address.")
		return
	}

	// Protocol: 1 = IPv4, 2 = IPv6
	if proto == "1" && ip.To4() == nil {
		s.reply(522, "Network protocol not supported, use (2).")
		return
	}
	if proto != "1" && proto != "2" {
		s.reply(522, "Network protocol not supported, use (1,2).")
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		s.reply(501, "Invalid port number.")
		return
	}

	if !s.validateActiveIP(ip) {
		s.reply(500, "Illegal EPRT command.")
		return
	}

	s.activeIP = ip.String()
	s.activePort = port

	s.reply(200, "EPRT command successful.")
}

// listenPassive opens a listener for a passive data connection, honoring the
// driver's configured port range by round-robin over it.
func (s *session) listenPassive() (net.Listener, error) {
	settings := s.fs.GetSettings()
	if settings != nil && settings.PasvMinPort > 0 && settings.PasvMaxPort >= settings.PasvMinPort {
		minPort := settings.PasvMinPort
		maxPort := settings.PasvMaxPort
		rangeLen := int32(maxPort - minPort + 1)

		startOffset := s.server.nextPassivePort.Add(1)

		for i := int32(0); i < rangeLen; i++ {
			offset := (startOffset + i) % rangeLen
			port := int(int32(minPort) + offset)

			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err == nil {
				return ln, nil
			}
		}
		return nil, fmt.Errorf("no available ports in range [%d, %d]", minPort, maxPort)
	}
	return net.Listen("tcp", ":0")
}

func (s *session) handlePASV(_ string) {
	if !s.requireAuth() {
		return
	}

	if s.pasvList != nil {
		s.pasvList.Close()
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	// The advertised address is the control connection's local IP, unless a
	// public host is configured (NAT setups).
	host, _, _ := net.SplitHostPort(s.conn.LocalAddr().String())
	settings := s.fs.GetSettings()
	if settings != nil && settings.PublicHost != "" {
		host = settings.PublicHost
	}

	ip := net.ParseIP(host)
	if ip == nil {
		if host == s.lastPublicHost && s.resolvedIP != nil {
			ip = s.resolvedIP
		} else if addrs, err := net.LookupIP(host); err == nil {
			for _, resolved := range addrs {
				if ipv4 := resolved.To4(); ipv4 != nil {
					ip = ipv4
					s.lastPublicHost = host
					s.resolvedIP = ip
					break
				}
			}
		}
	}

	var ipParts []string
	if ip != nil && ip.To4() != nil {
		ipParts = strings.Split(ip.To4().String(), ".")
	}
	if len(ipParts) != 4 {
		// Non-IPv4 local address or failed resolution; most clients fall
		// back to the control connection's peer address.
		ipParts = []string{"0", "0", "0", "0"}
	}

	p1 := port / 256
	p2 := port % 256
	arg := fmt.Sprintf("%s,%s,%s,%s,%d,%d", ipParts[0], ipParts[1], ipParts[2], ipParts[3], p1, p2)
	s.reply(227, "Entering Passive Mode ("+arg+").")
}

func (s *session) handleEPSV(_ string) {
	if !s.requireAuth() {
		return
	}

	if s.pasvList != nil {
		s.pasvList.Close()
	}

	ln, err := s.listenPassive()
	if err != nil {
		s.reply(425, "Can't open passive connection.")
		return
	}
	s.pasvList = ln

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	s.reply(229, fmt.Sprintf("Entering Extended Passive Mode (|||%s|)", portStr))
}

func (s *session) handleREST(arg string) {
	if !s.requireAuth() {
		return
	}

	offset, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || offset < 0 {
		s.reply(501, "Invalid offset.")
		return
	}
	s.restartOffset = offset
	s.reply(350, fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset))
}

// connData returns the data connection for the next transfer, passive or
// active depending on which the client negotiated last.
func (s *session) connData() (net.Conn, error) {
	if s.pasvList != nil {
		return s.connPassive()
	}

	if s.activeIP != "" {
		return s.connActive()
	}

	return nil, fmt.Errorf("no data connection setup")
}

func (s *session) connPassive() (net.Conn, error) {
	s.server.logger.Debug("waiting for passive connection",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
	)
	// Bound the wait for the client to connect back.
	if t, ok := s.pasvList.(*net.TCPListener); ok {
		_ = t.SetDeadline(time.Now().Add(s.server.passiveTimeout))
	}
	conn, err := s.pasvList.Accept()
	s.pasvList.Close()
	s.pasvList = nil
	if err != nil {
		return nil, err
	}

	return s.wrapDataConn(conn)
}

func (s *session) connActive() (net.Conn, error) {
	addr := net.JoinHostPort(s.activeIP, strconv.Itoa(s.activePort))
	s.server.logger.Debug("dialing active connection",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"addr", addr,
	)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, err
	}
	s.activeIP = "" // Reset after use

	return s.wrapDataConn(conn)
}

// wrapDataConn applies deadlines and registers the connection with the server
// so Stop can force-close in-flight transfers.
func (s *session) wrapDataConn(conn net.Conn) (net.Conn, error) {
	if s.server.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	if s.server.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}

	if !s.server.trackConnection(conn, true) {
		return nil, fmt.Errorf("server is shutting down")
	}
	return &trackingConn{Conn: conn, server: s.server}, nil
}
