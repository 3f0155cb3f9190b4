package server

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSDriver implements Driver using the local filesystem.
//
// Security model:
//   - All file operations are confined to the root path using os.Root
//   - Path traversal attacks (../) are prevented by path normalization
//     before the containment check
//   - Read-only mode is enforced at the operation level
//   - Each session gets an isolated ClientContext
//
// The driver uses os.Root (Go 1.24+) to jail file operations within the
// root directory. This provides kernel-level protection against directory
// traversal, including traversal through symlinks.
type FSDriver struct {
	rootPath string

	// credentials answers authentication queries. Required.
	credentials CredentialStore

	// readOnly rejects every mutating operation with os.ErrPermission.
	readOnly bool

	settings *Settings
}

// FSDriverOption is a functional option for configuring an FSDriver.
type FSDriverOption func(*FSDriver)

// NewFSDriver creates a new filesystem driver with the given root path and
// options. The root path is the directory that will serve as the root for
// all FTP operations. Returns an error if the root path does not exist or
// is not a directory, or if no credential store is provided.
//
// Basic usage:
//
//	creds := server.NewStaticCredentials()
//	creds.AddUser("kodi", "kodi")
//	driver, err := server.NewFSDriver("/media", server.WithCredentials(creds))
func NewFSDriver(rootPath string, options ...FSDriverOption) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", rootPath)
	}

	// Canonicalize the root path so containment checks compare real paths.
	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}

	d := &FSDriver{
		rootPath: rootPath,
	}

	for _, opt := range options {
		opt(d)
	}

	if d.credentials == nil {
		return nil, errors.New("credential store is required (use WithCredentials option)")
	}

	return d, nil
}

// WithCredentials sets the credential store used to validate USER/PASS.
func WithCredentials(store CredentialStore) FSDriverOption {
	return func(d *FSDriver) {
		d.credentials = store
	}
}

// WithReadOnly restricts all sessions to read-only operations.
// Uploads, deletes, renames and directory creation fail with a
// permission-denied reply.
func WithReadOnly(readOnly bool) FSDriverOption {
	return func(d *FSDriver) {
		d.readOnly = readOnly
	}
}

// WithSettings sets passive-mode settings for sessions of this driver.
//
// Example:
//
//	settings := &server.Settings{
//	    PublicHost:  "media.example.com",
//	    PasvMinPort: 30000,
//	    PasvMaxPort: 30100,
//	}
//	driver, _ := server.NewFSDriver("/media",
//	    server.WithCredentials(creds),
//	    server.WithSettings(settings),
//	)
func WithSettings(settings *Settings) FSDriverOption {
	return func(d *FSDriver) {
		d.settings = settings
	}
}

// Authenticate validates the credentials against the store and returns a
// fresh context rooted at the driver's root path.
func (d *FSDriver) Authenticate(user, pass string) (ClientContext, error) {
	if !d.credentials.Authenticate(user, pass) {
		return nil, os.ErrPermission
	}

	root, err := os.OpenRoot(d.rootPath)
	if err != nil {
		return nil, err
	}

	return &fsContext{
		rootHandle: root,
		rootPath:   d.rootPath,
		cwd:        "/",
		readOnly:   d.readOnly,
		settings:   d.settings,
	}, nil
}

// fsContext implements ClientContext for the local filesystem.
// It tracks the current working directory and ensures all operations
// are jailed within the root handle.
type fsContext struct {
	rootHandle *os.Root
	rootPath   string
	cwd        string
	readOnly   bool
	settings   *Settings
}

// Close closes the underlying root directory handle.
// This is essential to release file descriptors.
func (c *fsContext) Close() error {
	return c.rootHandle.Close()
}

// resolve returns the path relative to the root handle.
// Paths are normalized before use so `..` segments can never climb above
// the virtual root; os.Root enforces the same invariant at the OS level.
func (c *fsContext) resolve(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		// Relative to the session's working directory.
		path = filepath.Join(c.cwd, path)
	}

	path = filepath.Clean(path)

	// filepath.Clean collapses "/.." to "/", so a path that still does not
	// start with "/" here is malformed.
	if !strings.HasPrefix(path, "/") {
		return "", errors.New("invalid path")
	}

	// Strip the leading slash to get a path relative to the root handle:
	// "/foo/bar" -> "foo/bar", "/" -> ".".
	rel := strings.TrimPrefix(path, "/")
	if rel == "" {
		rel = "."
	}

	return rel, nil
}

// ChangeDir changes the current working directory.
// It verifies the destination exists and is a directory.
func (c *fsContext) ChangeDir(path string) error {
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}

	info, err := c.rootHandle.Stat(rel)
	if err != nil {
		return normalizeFSError(err)
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}

	// Update cwd (virtual path).
	if !strings.HasPrefix(path, "/") {
		path = filepath.Join(c.cwd, path)
	}
	c.cwd = filepath.Clean(path)
	if !strings.HasPrefix(c.cwd, "/") {
		c.cwd = "/" + c.cwd
	}

	return nil
}

// GetWd returns the current working directory.
func (c *fsContext) GetWd() (string, error) {
	return c.cwd, nil
}

// MakeDir creates a new directory with 0755 permissions.
func (c *fsContext) MakeDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return normalizeFSError(c.rootHandle.Mkdir(rel, 0755))
}

// RemoveDir removes a directory.
func (c *fsContext) RemoveDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return normalizeFSError(c.rootHandle.Remove(rel))
}

// DeleteFile removes a file.
func (c *fsContext) DeleteFile(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return normalizeFSError(c.rootHandle.Remove(rel))
}

// Rename moves or renames a file or directory.
func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	srcRel, err := c.resolve(fromPath)
	if err != nil {
		return err
	}
	dstRel, err := c.resolve(toPath)
	if err != nil {
		return err
	}

	srcFull := filepath.Join(c.rootPath, srcRel)
	dstFull := filepath.Join(c.rootPath, dstRel)

	// os.Root does not cover Rename, so resolve symlinks ourselves and
	// verify both endpoints stay inside the root.
	realSrc, err := filepath.EvalSymlinks(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		// Generic error to avoid leaking the absolute path.
		return errors.New("failed to resolve source path")
	}
	if !strings.HasPrefix(realSrc, c.rootPath) {
		return os.ErrPermission
	}

	// The destination may not exist yet; check its parent directory.
	dstParent := filepath.Dir(dstFull)
	realDstParent, err := filepath.EvalSymlinks(dstParent)
	if err == nil {
		if !strings.HasPrefix(realDstParent, c.rootPath) {
			return os.ErrPermission
		}
	} else if !os.IsNotExist(err) {
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("failed to resolve destination path")
	}

	if err := os.Rename(srcFull, dstFull); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("rename failed")
	}
	return nil
}

// ListDir returns the files in the specified directory, sorted by name.
func (c *fsContext) ListDir(path string) ([]os.FileInfo, error) {
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := c.rootHandle.Open(rel)
	if err != nil {
		return nil, normalizeFSError(err)
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, normalizeFSError(err)
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err == nil {
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

// OpenFile opens a file for transfer (reading or writing).
func (c *fsContext) OpenFile(path string, flag int) (io.ReadWriteCloser, error) {
	if c.readOnly {
		if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
			return nil, os.ErrPermission
		}
	}
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := c.rootHandle.OpenFile(rel, flag, 0644)
	if err != nil {
		return nil, normalizeFSError(err)
	}
	return f, nil
}

// GetFileInfo returns status information for a file or directory.
func (c *fsContext) GetFileInfo(path string) (os.FileInfo, error) {
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := c.rootHandle.Stat(rel)
	if err != nil {
		return nil, normalizeFSError(err)
	}
	return info, nil
}

func (c *fsContext) GetSettings() *Settings {
	if c.settings == nil {
		return &Settings{}
	}
	return c.settings
}

// normalizeFSError maps OS-level errors to the three sentinel kinds the
// protocol layer understands, so replies never leak raw OS error strings.
func normalizeFSError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return os.ErrNotExist
	case os.IsPermission(err):
		return os.ErrPermission
	case os.IsExist(err):
		return os.ErrExist
	default:
		return err
	}
}
