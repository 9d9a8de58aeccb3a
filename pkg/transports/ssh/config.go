package ssh

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address.
	Host string

	// Port is the SSH port (default: 22).
	Port int

	// User is the SSH username.
	User string

	// PrivateKeyPath is the path to the private key file. When empty the
	// default key under ~/.ssh is tried.
	PrivateKeyPath string

	// KnownHostsPath is the path to the known_hosts file. When empty,
	// host key verification is disabled (not recommended for production).
	KnownHostsPath string

	// ConnectionTimeout bounds connection establishment, including retries.
	ConnectionTimeout time.Duration

	// CommandTimeout is the default timeout for command execution.
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host, user string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		PrivateKeyPath:    filepath.Join(os.Getenv("HOME"), ".ssh", "id_ed25519"),
		KnownHostsPath:    filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectionTimeout: 30 * time.Second,
		CommandTimeout:    5 * time.Minute,
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildSSHClientConfig constructs the golang.org/x/crypto/ssh client config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", c.PrivateKeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in below
	if c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", c.KnownHostsPath, err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}
