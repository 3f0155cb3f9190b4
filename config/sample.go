package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const sampleConfig = `# mediaftpd configuration.
# Every key can be overridden with a MEDIAFTP_* environment variable,
# e.g. MEDIAFTP_SERVER_PORT=2121.

server:
  # Address to bind the control listener to. Empty means all interfaces.
  bind_address: ""
  port: 2121

  # Directory served to clients. Every session is jailed to it.
  root: "/media"

  # Reject all commands that modify the filesystem.
  read_only: false

  welcome_message: "220 Media FTP Server Ready"

auth:
  username: "kodi"
  # Plain password, compared in constant time.
  password: "kodi"
  # Or a bcrypt hash instead (mutually exclusive with password).
  # Generate one with: mediaftpd hashpw
  # password_hash: "$2a$10$..."

passive:
  # IP or hostname advertised in PASV replies. Set this behind NAT.
  public_host: ""
  # Restrict passive listeners to a port range (0 = any free port).
  min_port: 0
  max_port: 0
  # How long to wait for the client's inbound data connection.
  timeout: 30s

limits:
  # 0 = unlimited.
  max_connections: 64
  max_connections_per_ip: 0
  # Failed PASS commands before the connection is closed.
  max_login_attempts: 3
  idle_timeout: 5m

bandwidth:
  # Bytes per second; 0 = unlimited.
  global_bps: 0
  per_session_bps: 0

logging:
  # DEBUG, INFO, WARN or ERROR.
  level: INFO
  # text or json.
  format: text

metrics:
  enabled: false
  listen_address: ":9090"
`

// WriteSample writes a commented sample configuration to path. It refuses to
// overwrite an existing file.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
