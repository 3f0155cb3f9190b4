package server

import (
	"fmt"
	"runtime"
	"strings"
)

func (s *session) handleSIZE(path string) {
	if !s.requireAuth() {
		return
	}

	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "Could not get file size.")
		return
	}
	if info.IsDir() {
		s.reply(550, "Not a regular file.")
		return
	}

	s.reply(213, fmt.Sprintf("%d", info.Size()))
}

func (s *session) handleMDTM(path string) {
	if !s.requireAuth() {
		return
	}

	info, err := s.fs.GetFileInfo(path)
	if err != nil {
		s.reply(550, "Could not get file modification time.")
		return
	}

	// YYYYMMDDHHMMSS, always UTC (RFC 3659 section 2.3).
	s.reply(213, info.ModTime().UTC().Format("20060102150405"))
}

// handleFEAT advertises optional features. Available pre-authentication so
// clients can plan the session.
func (s *session) handleFEAT(_ string) {
	features := []string{
		"SIZE",
		"MDTM",
		"PASV",
		"EPSV",
		"EPRT",
		"UTF8",
		"TVFS",
		"MLST type*;size*;modify*;",
		"MLSD",
		"REST STREAM",
	}
	s.replyLines(211, "Features:", features, "End")
}

func (s *session) handleOPTS(arg string) {
	if strings.HasPrefix(strings.ToUpper(arg), "UTF8 ON") {
		s.reply(200, "Always in UTF8 mode.")
		return
	}
	s.reply(501, "Option not understood.")
}

// handleSYST reports the system type based on runtime.GOOS.
func (s *session) handleSYST(_ string) {
	var systType string
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "aix":
		systType = "UNIX Type: L8"
	case "windows":
		systType = "Windows_NT"
	case "plan9":
		systType = "Plan9"
	default:
		systType = "UNKNOWN Type: L8"
	}
	s.reply(215, systType)
}

// handleSTAT reports connection status. It is one of the few commands
// accepted while a transfer is in progress.
func (s *session) handleSTAT(arg string) {
	if arg != "" {
		s.reply(502, "STAT with path not implemented. Use LIST instead.")
		return
	}

	var lines []string
	if s.isLoggedIn {
		lines = append(lines, fmt.Sprintf("Logged in as: %s", s.user))
	} else {
		lines = append(lines, "Not logged in")
	}

	lines = append(lines, fmt.Sprintf("TYPE: %s; STRUcture: File; transfer MODE: Stream", s.transferType))

	s.mu.Lock()
	busy := s.busy
	pasv := s.pasvList != nil
	s.mu.Unlock()

	if busy {
		lines = append(lines, "A file transfer is in progress")
	}
	if pasv {
		lines = append(lines, "Passive mode enabled")
	} else if s.activeIP != "" {
		lines = append(lines, fmt.Sprintf("Active mode: %s:%d", s.activeIP, s.activePort))
	}

	s.replyLines(211, "Status:", lines, "End of status")
}

func (s *session) handleHELP(arg string) {
	if arg != "" {
		s.reply(214, fmt.Sprintf("No help available for %s.", arg))
		return
	}

	lines := []string{
		"USER PASS QUIT ACCT",
		"CWD XCWD CDUP XCUP PWD XPWD",
		"MKD XMKD RMD XRMD DELE RNFR RNTO",
		"LIST NLST MLSD MLST",
		"RETR STOR APPE REST ABOR",
		"TYPE MODE STRU PORT PASV EPSV EPRT",
		"SIZE MDTM FEAT OPTS",
		"SYST STAT HELP NOOP",
	}
	s.replyLines(214, "The following commands are supported:", lines, "End of help")
}

// ACCT is superfluous here; RFC 1123 requires the 202 reply.
func (s *session) handleACCT(_ string) {
	s.reply(202, "Command not implemented, superfluous at this site.")
}

// handleMODE accepts only stream mode, per RFC 1123.
func (s *session) handleMODE(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		s.reply(200, "Mode set to Stream.")
	case "B":
		s.reply(504, "Block mode not implemented.")
	case "C":
		s.reply(504, "Compressed mode not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}

// handleSTRU accepts only file structure, per RFC 1123.
func (s *session) handleSTRU(arg string) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		s.reply(200, "Structure set to File.")
	case "R":
		s.reply(504, "Record structure not implemented.")
	case "P":
		s.reply(504, "Page structure not implemented.")
	default:
		s.reply(504, "Command not implemented for that parameter.")
	}
}
