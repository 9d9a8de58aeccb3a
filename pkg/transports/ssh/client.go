// Package ssh provides the authenticated remote channel used by the
// production acquisition strategy and the preflight reachability probe:
// remote command execution and bulk file transfer with include/exclude
// filtering. Beyond success, failure, and captured output the remote side
// is opaque.
package ssh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH transport to a single remote host.
type Client struct {
	config *Config

	mu          sync.Mutex
	client      *ssh.Client
	isConnected bool
}

// NewClient creates an SSH transport client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection, retrying transient dial failures
// with exponential backoff until the configured connection timeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isConnected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.config.ConnectionTimeout

	var client *ssh.Client
	operation := func() error {
		dialed, dialErr := ssh.Dial("tcp", c.config.Address(), clientConfig)
		if dialErr != nil {
			log.Debug().
				Str("address", c.config.Address()).
				Err(dialErr).
				Msg("ssh dial failed, will retry")
			return dialErr
		}
		client = dialed
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	c.client = client
	c.isConnected = true

	log.Debug().
		Str("address", c.config.Address()).
		Msg("ssh connection established")
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isConnected = false
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// conn returns the live connection, connecting if necessary.
func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	connected := c.isConnected && c.client != nil
	c.mu.Unlock()

	if !connected {
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client, nil
}

// Reachable reports whether the remote host answers a TCP connection within
// the given timeout. It never retries and never authenticates; preflight
// uses it as an informational probe.
func Reachable(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
