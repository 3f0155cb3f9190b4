package server

import (
	"fmt"
	"os"
	"time"
)

func (s *session) handlePWD(_ string) {
	if !s.requireAuth() {
		return
	}
	cwd, err := s.fs.GetWd()
	if err != nil {
		s.replyError(err)
		return
	}
	s.reply(257, fmt.Sprintf("%q is the current directory.", cwd))
}

func (s *session) handleCWD(path string) {
	if !s.requireAuth() {
		return
	}
	if err := s.fs.ChangeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.reply(250, "Directory successfully changed.")
}

func (s *session) handleCDUP(_ string) {
	s.handleCWD("..")
}

// handleLIST streams a long-format directory listing over the data channel.
// Entries come back from the driver sorted by name.
func (s *session) handleLIST(arg string) {
	if !s.requireAuth() {
		return
	}

	entries, err := s.fs.ListDir(listPath(arg))
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the directory listing.")

	start := time.Now()
	var bytes int64
	for _, entry := range entries {
		n, err := fmt.Fprint(conn, formatListEntry(entry))
		bytes += int64(n)
		if err != nil {
			s.reply(426, "Connection closed; transfer aborted.")
			return
		}
	}

	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer("LIST", bytes, time.Since(start))
	}
	s.reply(226, "Directory send OK.")
}

// handleNLST streams bare file names, one per line.
func (s *session) handleNLST(arg string) {
	if !s.requireAuth() {
		return
	}

	entries, err := s.fs.ListDir(listPath(arg))
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "Here comes the file list.")

	for _, entry := range entries {
		if _, err := fmt.Fprintf(conn, "%s\r\n", entry.Name()); err != nil {
			s.reply(426, "Connection closed; transfer aborted.")
			return
		}
	}

	s.reply(226, "Transfer complete.")
}

// handleMLSD streams a machine-readable listing (RFC 3659).
func (s *session) handleMLSD(arg string) {
	if !s.requireAuth() {
		return
	}

	entries, err := s.fs.ListDir(listPath(arg))
	if err != nil {
		s.replyError(err)
		return
	}

	conn, err := s.connData()
	if err != nil {
		s.reply(425, "Can't open data connection.")
		return
	}
	defer conn.Close()

	s.reply(150, "MLSD listing started.")

	for _, entry := range entries {
		if _, err := fmt.Fprint(conn, formatMLEntry(entry)); err != nil {
			s.reply(426, "Connection closed; transfer aborted.")
			return
		}
	}

	s.reply(226, "MLSD listing complete.")
}

// handleMLST returns facts about a single path over the control channel.
func (s *session) handleMLST(arg string) {
	if !s.requireAuth() {
		return
	}

	info, err := s.fs.GetFileInfo(arg)
	if err != nil {
		s.replyError(err)
		return
	}

	s.replyLines(250, "Listing follows", []string{formatMLEntryBare(info)}, "End")
}

func (s *session) handleMKD(path string) {
	if !s.requireAuth() {
		return
	}
	if err := s.fs.MakeDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_created",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", path,
	)
	s.reply(257, fmt.Sprintf("%q created.", path))
}

func (s *session) handleRMD(path string) {
	if !s.requireAuth() {
		return
	}
	if err := s.fs.RemoveDir(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("directory_removed",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", path,
	)
	s.reply(250, "Directory removed.")
}

func (s *session) handleDELE(path string) {
	if !s.requireAuth() {
		return
	}
	if err := s.fs.DeleteFile(path); err != nil {
		s.replyError(err)
		return
	}
	s.server.logger.Info("file_deleted",
		"session_id", s.sessionID,
		"remote_ip", s.remoteIP,
		"user", s.user,
		"path", path,
	)
	s.reply(250, "File deleted.")
}

func (s *session) handleRNFR(path string) {
	if !s.requireAuth() {
		return
	}

	if _, err := s.fs.GetFileInfo(path); err != nil {
		s.reply(550, "File not found.")
		return
	}

	s.renameFrom = path
	s.reply(350, "Requested file action pending further information.")
}

func (s *session) handleRNTO(path string) {
	if !s.requireAuth() {
		return
	}

	if s.renameFrom == "" {
		s.reply(503, "Bad sequence of commands. Send RNFR first.")
		return
	}

	err := s.fs.Rename(s.renameFrom, path)
	s.renameFrom = ""
	if err != nil {
		s.replyError(err)
		return
	}

	s.reply(250, "Requested file action successful, file renamed.")
}

// listPath normalizes LIST/NLST arguments: no argument means the current
// directory, and option flags some clients send (e.g. "-la") are ignored.
func listPath(arg string) string {
	if arg == "" || arg[0] == '-' {
		return ""
	}
	return arg
}

// formatListEntry renders one entry in the conventional Unix long-listing
// format most clients parse.
func formatListEntry(info os.FileInfo) string {
	return fmt.Sprintf("%s 1 owner group %12d %s %s\r\n",
		info.Mode().String(),
		info.Size(),
		info.ModTime().Format("Jan 02 15:04"),
		info.Name(),
	)
}

// formatMLEntry renders one RFC 3659 fact line, CRLF-terminated.
func formatMLEntry(info os.FileInfo) string {
	return formatMLEntryBare(info) + "\r\n"
}

func formatMLEntryBare(info os.FileInfo) string {
	t := "file"
	if info.IsDir() {
		t = "dir"
	}
	// RFC 3659 section 2.3: time values are always in UTC.
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s",
		t, info.Size(), info.ModTime().UTC().Format("20060102150405"), info.Name())
}
