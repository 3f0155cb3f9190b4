package server

// handleUSER records the claimed username. Authentication happens on PASS.
// A new USER mid-session restarts the login handshake.
func (s *session) handleUSER(user string) {
	if user == "" {
		s.reply(501, "Syntax error in parameters or arguments.")
		return
	}
	s.user = user
	s.isLoggedIn = false
	s.reply(331, "User name okay, need password.")
}

// handlePASS authenticates against the driver. Failed attempts are bounded;
// once the bound is hit the connection is force-closed (return false).
func (s *session) handlePASS(pass string) bool {
	if s.user == "" {
		s.reply(503, "Login with USER first.")
		return true
	}
	if s.isLoggedIn {
		s.reply(503, "Already logged in.")
		return true
	}

	ctx, err := s.server.driver.Authenticate(s.user, pass)
	if err != nil {
		s.loginFailures++
		s.server.logger.Warn("authentication_failed",
			"session_id", s.sessionID,
			"remote_ip", s.remoteIP,
			"user", s.user,
			"attempt", s.loginFailures,
		)
		if s.server.metricsCollector != nil {
			s.server.metricsCollector.RecordAuthentication(false, s.user)
		}

		if s.loginFailures >= s.server.maxLoginAttempts {
			s.reply(530, "Login incorrect.")
			s.reply(421, "Too many failed login attempts; closing control connection.")
			return false
		}
		s.reply(530, "Login incorrect.")
		return true
	}

	if s.fs != nil {
		s.fs.Close()
	}
	s.fs = ctx
	s.isLoggedIn = true
	s.server.logger.Info("authentication_success",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
	)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordAuthentication(true, s.user)
	}
	s.reply(230, "User logged in, proceed.")
	return true
}
