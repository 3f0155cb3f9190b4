// Package server implements an embeddable FTP server with per-session
// filesystem isolation and configurable credentials.
//
// # Overview
//
// This package provides a modular FTP server implementation that allows you to:
//   - Embed an FTP server into your Go application and control its lifecycle
//   - Serve a local directory with every session jailed to it
//   - Authenticate against a pluggable credential store
//   - Use custom storage backends (Drivers)
//
// # Getting Started
//
// The easiest way to start is using the provided FSDriver to serve a local
// directory with a single account:
//
//	package main
//
//	import (
//	    "log"
//	    "github.com/mediakit/ftpd/server"
//	)
//
//	func main() {
//	    creds := server.NewStaticCredentials()
//	    creds.AddUser("kodi", "kodi")
//
//	    driver, err := server.NewFSDriver("/media", server.WithCredentials(creds))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    s, err := server.NewServer(":2121", server.WithDriver(driver))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//
//	    log.Println("Starting FTP server on :2121")
//	    if err := s.ListenAndServe(); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//
// # Lifecycle
//
// For embedding, Start runs the server in the background and Stop tears it
// down deterministically:
//
//	s, _ := server.NewServer(":2121", server.WithDriver(driver))
//	if err := s.Start(); err != nil {
//	    // port already bound, etc.
//	}
//	// ...
//	s.Stop() // returns once the port is released and all sessions are gone
//
// Stop force-closes active control and data connections; a Start on the same
// address immediately after Stop returns cannot fail with "address in use"
// because of a lingering listener.
//
// # Custom Drivers
//
// You can implement the Driver interface to connect the FTP server to any
// backend, such as cloud storage or an in-memory filesystem.
//
// Implement the Driver interface:
//
//	type Driver interface {
//	    Authenticate(user, pass string) (ClientContext, error)
//	}
//
// And the ClientContext interface for file operations:
//
//	type ClientContext interface {
//	    ListDir(path string) ([]os.FileInfo, error)
//	    OpenFile(path string, flag int) (io.ReadWriteCloser, error)
//	    GetSettings() *Settings
//	    // ...
//	}
//
// # Authentication
//
// FSDriver authenticates against a CredentialStore. StaticCredentials holds
// a fixed user/password table; passwords may be given in plain text (compared
// in constant time) or as bcrypt hashes:
//
//	creds := server.NewStaticCredentials()
//	creds.AddUser("kodi", "kodi")
//	creds.AddUserHash("admin", "$2a$10$...")
//
// Failed logins are bounded per connection; after the configured number of
// failed PASS commands the control connection is closed.
//
// # Passive Mode Configuration
//
// When behind NAT or in containerized environments, configure passive mode
// settings:
//
//	settings := &server.Settings{
//	    PublicHost:  "ftp.example.com", // Public IP or hostname
//	    PasvMinPort: 30000,             // Passive port range start
//	    PasvMaxPort: 30100,             // Passive port range end
//	}
//	driver, _ := server.NewFSDriver("/media",
//	    server.WithCredentials(creds),
//	    server.WithSettings(settings),
//	)
//
// The PublicHost is advertised to clients in PASV responses. If not set,
// the server uses the control connection's local address.
//
// # Server Configuration
//
// Connection limits, timeouts and throttling:
//
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithMaxConnections(100),
//	    server.WithMaxIdleTime(10*time.Minute),
//	    server.WithBandwidthLimit(0, 1<<20), // 1 MiB/s per session
//	)
//
// Custom logging:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := server.NewServer(":2121",
//	    server.WithDriver(driver),
//	    server.WithLogger(logger),
//	)
//
// # RFC Compliance
//
// This server implements the following RFCs:
//   - RFC 959 (Base FTP)
//   - RFC 1123 (Requirements for Internet Hosts - minimum implementation)
//   - RFC 2389 (Feature Negotiation)
//   - RFC 2428 (IPv6 / NAT: EPRT, EPSV)
//   - RFC 3659 (Extensions: SIZE, MDTM, MLSD, MLST, REST)
package server
