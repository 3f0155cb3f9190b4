package server

import (
	"io"
	"os"
)

// Driver is the interface that must be implemented by an FTP backend.
// It is responsible for authenticating users and providing a session-specific
// ClientContext for file operations.
//
// Implementations should:
//   - Validate user credentials (user, pass)
//   - Return a ClientContext that isolates the user's file operations
//   - Return os.ErrPermission or similar errors for authentication failures
//
// To implement a custom backend (e.g., a media library index, an in-memory
// tree), implement this interface.
type Driver interface {
	// Authenticate validates the user and password.
	//
	// Returns:
	//   - ClientContext: A session-specific context for file operations
	//   - error: Authentication error (use os.ErrPermission for invalid credentials)
	Authenticate(user, pass string) (ClientContext, error)
}

// ClientContext is the interface that must be implemented by a driver to handle
// file system operations for a specific client session.
//
// It isolates the operations to the user's view of the filesystem (handling
// chroots). All paths are relative to the user's root directory and use
// forward slashes.
//
// Error handling:
//   - Return os.ErrNotExist when files/directories don't exist
//   - Return os.ErrPermission for permission denied errors
//   - Return os.ErrExist when files/directories already exist
//   - The server will translate these to appropriate FTP response codes
//
// Implementations must be safe for concurrent use by a single session.
type ClientContext interface {
	// ChangeDir changes the current working directory.
	// Returns os.ErrNotExist if the directory doesn't exist.
	ChangeDir(path string) error

	// GetWd returns the current working directory.
	GetWd() (string, error)

	// MakeDir creates a new directory.
	// Returns os.ErrExist if the directory already exists.
	MakeDir(path string) error

	// RemoveDir removes a directory.
	// Returns os.ErrNotExist if the directory doesn't exist.
	RemoveDir(path string) error

	// DeleteFile removes a file.
	// Returns os.ErrNotExist if the file doesn't exist.
	DeleteFile(path string) error

	// Rename moves or renames a file or directory.
	// Returns os.ErrNotExist if the source doesn't exist.
	Rename(fromPath, toPath string) error

	// ListDir returns the files in the specified directory, sorted by name.
	// Returns os.ErrNotExist if the directory doesn't exist.
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file for reading or writing.
	// The flag parameter uses os.O_* constants (os.O_RDONLY, os.O_WRONLY|os.O_CREATE, etc.).
	// Returns os.ErrNotExist if the file doesn't exist (for reading).
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)

	// GetFileInfo returns file or directory metadata.
	// Returns os.ErrNotExist if the path doesn't exist.
	GetFileInfo(path string) (os.FileInfo, error)

	// Close releases any resources associated with this context.
	// Called when the client disconnects.
	Close() error

	// GetSettings returns the session settings for passive mode configuration.
	// May return nil if no special settings are needed.
	GetSettings() *Settings
}

// Settings defines server configuration for passive mode.
//
// These settings are typically configured once and shared across all sessions.
type Settings struct {
	// PublicHost is the hostname or IP address advertised in PASV responses.
	// If set to a hostname, the server will resolve it once and use the first
	// IPv4 address found.
	// If empty, the server uses the control connection's local address.
	// Required when behind NAT or in containerized environments.
	PublicHost string

	// PasvMinPort is the minimum port number for passive data connections.
	// If 0, the OS assigns a random port.
	PasvMinPort int

	// PasvMaxPort is the maximum port number for passive data connections.
	// If 0, the OS assigns a random port.
	// Must be >= PasvMinPort if both are set.
	PasvMaxPort int
}
